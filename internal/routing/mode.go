package routing

import (
	"regexp"
	"strings"
)

// agentPatterns match action-oriented language that needs tool execution.
var agentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(execute|run|perform|do|make)\b.*\b(command|operation|action)\b`),
	regexp.MustCompile(`\b(change|modify|update|delete|create|add|remove)\b`),
	regexp.MustCompile(`\b(restart|reboot|reset|reload)\b`),
	regexp.MustCompile(`\b(block|unblock|enable|disable)\b`),
	regexp.MustCompile(`\b(configure|setup|set)\b.*\b(to|as|with)\b`),
}

// answerPatterns match knowledge questions answerable without tools.
var answerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(what|who|where|when|which)\b.*\?$`),
	regexp.MustCompile(`\b(explain|describe|tell me about)\b`),
	regexp.MustCompile(`\b(how does|what does|why does)\b.*\b(work|mean)\b`),
	regexp.MustCompile(`\b(summarize|summary of)\b`),
}

// Model tier score thresholds.
const (
	lightweightMaxScore = 30
	midTierMaxScore     = 60
)

// PriorSignals carries outcome data from earlier routing of the same
// or similar queries into mode detection.
type PriorSignals struct {
	// Confidence is the confidence of the prior decision, if known.
	Confidence *float64

	// Success reports whether the prior attempt succeeded, if known.
	Success *bool
}

// ModeDetector decides the execution mode for a query. Detection is
// deterministic and performs no I/O.
type ModeDetector struct {
	scorer *ComplexityScorer
}

// NewModeDetector creates a mode detector.
func NewModeDetector() *ModeDetector {
	return &ModeDetector{
		scorer: NewComplexityScorer(),
	}
}

// Detect chooses an execution mode from the query text, its complexity,
// and optional prior signals.
func (d *ModeDetector) Detect(query string, complexity ComplexityScore, prior PriorSignals) ModeDecision {
	lowered := strings.ToLower(query)

	wantsAction := matchesAny(agentPatterns, lowered)
	wantsAnswer := matchesAny(answerPatterns, lowered)

	mode, confidence := baseMode(wantsAction, wantsAnswer, complexity.Level)

	var reason EscalationReason

	// Adjustments apply in a fixed order; each can upgrade the mode by
	// one step and lower confidence toward its floor, never below.
	if prior.Confidence != nil && *prior.Confidence < 0.5 {
		mode = escalateMode(mode)
		reason = ReasonLowConfidence
		confidence = maxFloat(0.3, confidence-0.2)
	}

	if prior.Success != nil && !*prior.Success {
		if mode == ModeToolUsing {
			mode = ModeBoth
		}
		reason = ReasonPreviousFailure
		confidence = maxFloat(0.3, confidence-0.3)
	}

	if complexity.Level == LevelExpert {
		mode = ModeBoth
		reason = ReasonExplicitComplexity
		confidence = maxFloat(0.4, confidence-0.1)
	}

	if _, ok := complexity.Factors["multi_step"]; ok {
		if mode == ModeDirect {
			mode = ModeToolUsing
		}
		reason = ReasonMultiStep
		confidence = maxFloat(0.5, confidence-0.1)
	}

	_, investigate := complexity.Factors["investigate"]
	_, troubleshoot := complexity.Factors["troubleshoot"]
	if investigate || troubleshoot {
		mode = ModeBoth
		reason = ReasonInvestigation
		confidence = 0.7
	}

	return ModeDecision{
		Mode:             mode,
		Complexity:       complexity,
		Confidence:       confidence,
		EscalationReason: reason,
		RecommendedModel: modelTierFor(complexity.Score),
	}
}

// baseMode picks the initial mode before adjustments.
func baseMode(wantsAction, wantsAnswer bool, level ComplexityLevel) (QueryMode, float64) {
	switch {
	case wantsAction && wantsAnswer:
		return ModeBoth, 0.75
	case wantsAction:
		return ModeToolUsing, 0.85
	case wantsAnswer:
		return ModeDirect, 0.85
	}

	// No pattern signal; fall back on complexity.
	switch level {
	case LevelSimple:
		return ModeToolUsing, 0.7
	case LevelComplex, LevelExpert:
		return ModeBoth, 0.6
	default:
		return ModeToolUsing, 0.75
	}
}

// escalateMode upgrades the mode by exactly one step, never past both.
func escalateMode(mode QueryMode) QueryMode {
	switch mode {
	case ModeDirect:
		return ModeToolUsing
	case ModeToolUsing:
		return ModeBoth
	default:
		return ModeBoth
	}
}

// modelTierFor maps a complexity score to a reasoning tier.
func modelTierFor(score int) ModelTier {
	switch {
	case score <= lightweightMaxScore:
		return TierLightweight
	case score <= midTierMaxScore:
		return TierMid
	default:
		return TierHeavy
	}
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
