package routing

import "strings"

// investigativeKeywords mark queries that need the full reasoning layer
// rather than the lightweight classifier. Matched as substrings of the
// lowercased query.
var investigativeKeywords = []string{
	"why",
	"investigate",
	"analyze",
	"figure out",
	"what's wrong",
	"troubleshoot",
	"explain",
	"help me understand",
}

// NeedsFullReasoning reports whether a query contains investigative
// language that the lightweight classifier cannot handle.
func NeedsFullReasoning(query string) bool {
	lowered := strings.ToLower(query)
	for _, kw := range investigativeKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Analyze scores the query and detects its mode in one pass, then folds
// in the observed success rate of similar queries when available.
func (d *ModeDetector) Analyze(query string, context map[string]any, similarSuccessRate *float64) ModeDecision {
	complexity := d.scorer.Score(query, context)
	decision := d.Detect(query, complexity, PriorSignals{})

	if similarSuccessRate != nil && *similarSuccessRate < 0.6 {
		decision.Confidence = maxFloat(0.3, decision.Confidence-0.2)
		if decision.Mode == ModeToolUsing && *similarSuccessRate < 0.4 {
			decision.Mode = ModeBoth
			decision.EscalationReason = ReasonPreviousFailure
		}
	}

	return decision
}
