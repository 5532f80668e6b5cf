package routing

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// complexityPattern pairs a named regex feature with its signed weight.
type complexityPattern struct {
	name    string
	pattern *regexp.Regexp
	weight  int
}

// complexityPatterns is the fixed feature table applied to the
// lowercased query. Order is fixed so factor application is stable.
var complexityPatterns = []complexityPattern{
	{"investigate", regexp.MustCompile(`\b(investigate|figure out|find out why)\b`), 20},
	{"analyze", regexp.MustCompile(`\b(analyze|examine|assess|evaluate)\b`), 18},
	{"troubleshoot", regexp.MustCompile(`\b(troubleshoot|debug|diagnose|fix)\b`), 22},
	{"explain_why", regexp.MustCompile(`\b(explain why|why (is|are|does|do|did|was))\b`), 15},
	{"multi_step", regexp.MustCompile(`\b(first.*then|after.*do|step by step)\b`), 18},
	{"compare", regexp.MustCompile(`\b(compare|difference between|versus|vs\.?)\b`), 15},
	{"what_is", regexp.MustCompile(`\b(what (is|are|was|were))\b`), 8},
	{"how_to", regexp.MustCompile(`\b(how (to|do|can|should))\b`), 10},
	{"configure", regexp.MustCompile(`\b(configure|setup|set up|enable|disable)\b`), 12},
	{"multiple_items", regexp.MustCompile(`\b(all|every|each|multiple|several)\b`), 10},
	{"conditional", regexp.MustCompile(`\b(if|when|unless|only when)\b`), 12},
	{"list_show", regexp.MustCompile(`\b(list|show|get|display)\b`), -5},
	{"simple_action", regexp.MustCompile(`\b(restart|reboot|block|unblock)\b`), -8},
	{"status_check", regexp.MustCompile(`\b(status|health|check if)\b`), -5},
}

// lengthStep maps a query-length ceiling to a score adjustment.
type lengthStep struct {
	maxLen     int
	adjustment int
}

// lengthSteps is monotonic in maxLen; queries longer than the last
// ceiling get +30.
var lengthSteps = []lengthStep{
	{20, -10},
	{50, -5},
	{100, 0},
	{200, 5},
	{500, 15},
	{1000, 25},
}

// entityPatterns detect structured operational identifiers in the raw
// query text.
var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[0-9a-fA-F]{2}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}`),
	regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
	regexp.MustCompile(`\bvlan[- ]?\d+\b`),
	regexp.MustCompile(`\b[a-z]+-[a-z]+-\d+\b`),
}

// Complexity level thresholds.
const (
	baselineScore     = 50
	simpleThreshold   = 25
	moderateThreshold = 50
	complexThreshold  = 75
)

// ComplexityScorer scores query complexity from fixed heuristics.
// Scoring is deterministic and performs no I/O.
type ComplexityScorer struct{}

// NewComplexityScorer creates a complexity scorer.
func NewComplexityScorer() *ComplexityScorer {
	return &ComplexityScorer{}
}

// Score computes the complexity of a query with optional context.
// Identical inputs always yield identical results.
func (s *ComplexityScorer) Score(query string, context map[string]any) ComplexityScore {
	score := baselineScore
	factors := make(map[string]int)

	lowered := strings.ToLower(query)

	// Pattern features
	for _, p := range complexityPatterns {
		if p.pattern.MatchString(lowered) {
			score += p.weight
			factors[p.name] = p.weight
		}
	}

	// Length adjustment
	if adj := lengthAdjustment(len(query)); adj != 0 {
		score += adj
		factors["length"] = adj
	}

	// Extra question marks suggest compound questions
	if extra := strings.Count(query, "?") - 1; extra > 0 {
		adj := 8 * extra
		score += adj
		factors["questions"] = adj
	}

	// Large context payloads
	if size := contextSize(context); size > 500 {
		score += 10
		factors["context"] = 10
		if size > 2000 {
			score += 10
			factors["context"] = 20
		}
	}

	// Structured entities (MACs, IPs, VLANs, device names)
	if count := countEntities(lowered); count > 2 {
		adj := 3 * count
		score += adj
		factors["entities"] = adj
	}

	score = clampScore(score)

	return ComplexityScore{
		Score:     score,
		Level:     levelFor(score),
		Factors:   factors,
		Reasoning: buildReasoning(factors),
	}
}

// lengthAdjustment returns the step-table adjustment for a query length.
func lengthAdjustment(length int) int {
	for _, step := range lengthSteps {
		if length <= step.maxLen {
			return step.adjustment
		}
	}
	return 30
}

// contextSize measures the serialized size of the context payload.
// JSON encoding sorts map keys, so the measurement is deterministic.
func contextSize(context map[string]any) int {
	if len(context) == 0 {
		return 0
	}
	data, err := json.Marshal(context)
	if err != nil {
		return 0
	}
	return len(data)
}

// countEntities counts structured identifiers across all entity patterns.
func countEntities(query string) int {
	count := 0
	for _, p := range entityPatterns {
		count += len(p.FindAllString(query, -1))
	}
	return count
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// levelFor maps a clamped score to its complexity level.
func levelFor(score int) ComplexityLevel {
	switch {
	case score <= simpleThreshold:
		return LevelSimple
	case score <= moderateThreshold:
		return LevelModerate
	case score <= complexThreshold:
		return LevelComplex
	default:
		return LevelExpert
	}
}

// buildReasoning names the top-3 factors by absolute weight.
func buildReasoning(factors map[string]int) string {
	if len(factors) == 0 {
		return ""
	}

	type weighted struct {
		name   string
		weight int
	}

	ranked := make([]weighted, 0, len(factors))
	for name, weight := range factors {
		ranked = append(ranked, weighted{name, weight})
	}
	sort.Slice(ranked, func(i, j int) bool {
		ai, aj := absInt(ranked[i].weight), absInt(ranked[j].weight)
		if ai != aj {
			return ai > aj
		}
		return ranked[i].name < ranked[j].name
	})

	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	parts := make([]string, 0, len(ranked))
	for _, f := range ranked {
		parts = append(parts, fmt.Sprintf("%s(%+d)", f.name, f.weight))
	}
	return strings.Join(parts, ", ")
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
