// Package routing provides query complexity scoring, execution-mode
// detection, and escalation policy for the activation cascade.
package routing

// RouteType identifies which cascade tier produced a routing decision.
type RouteType string

const (
	// RouteRuleMatch - a configured keyword rule matched the query.
	RouteRuleMatch RouteType = "rule-match"

	// RouteSimilarityReuse - a trusted past decision was reused.
	RouteSimilarityReuse RouteType = "similarity-reuse"

	// RouteLightweightClassifier - routed to the lightweight classifier layer.
	RouteLightweightClassifier RouteType = "lightweight-classifier"

	// RouteFullReasoning - routed to the full reasoning layer.
	RouteFullReasoning RouteType = "full-reasoning"
)

// QueryMode represents how a query should be executed.
type QueryMode string

const (
	// ModeDirect - answer directly, no tool calls.
	ModeDirect QueryMode = "direct"

	// ModeToolUsing - execute tools to fulfill the query.
	ModeToolUsing QueryMode = "tool-using"

	// ModeBoth - execute tools and reason over the results.
	ModeBoth QueryMode = "both"
)

// ComplexityLevel buckets a numeric complexity score.
type ComplexityLevel string

const (
	// LevelSimple - score 0-25.
	LevelSimple ComplexityLevel = "simple"

	// LevelModerate - score 26-50.
	LevelModerate ComplexityLevel = "moderate"

	// LevelComplex - score 51-75.
	LevelComplex ComplexityLevel = "complex"

	// LevelExpert - score 76-100.
	LevelExpert ComplexityLevel = "expert"
)

// EscalationReason explains why a mode was upgraded.
type EscalationReason string

const (
	// ReasonLowConfidence - prior routing confidence was below trust.
	ReasonLowConfidence EscalationReason = "low_confidence"

	// ReasonPreviousFailure - a prior attempt or similar query failed.
	ReasonPreviousFailure EscalationReason = "previous_failure"

	// ReasonExplicitComplexity - complexity level demanded the upgrade.
	ReasonExplicitComplexity EscalationReason = "explicit_complexity"

	// ReasonMultiStep - multi-step language requires tool execution.
	ReasonMultiStep EscalationReason = "multi_step"

	// ReasonInvestigation - investigative language requires full reasoning.
	ReasonInvestigation EscalationReason = "investigation"

	// ReasonTimeout - the previous attempt exceeded its latency budget.
	ReasonTimeout EscalationReason = "timeout"

	// ReasonError - the previous attempt returned an error.
	ReasonError EscalationReason = "error"
)

// ModelTier labels the reasoning capacity recommended for a query.
type ModelTier string

const (
	// TierLightweight - small classifier-grade model, score <= 30.
	TierLightweight ModelTier = "lightweight"

	// TierMid - mid-sized model, score 31-60.
	TierMid ModelTier = "mid-tier"

	// TierHeavy - heaviest reasoning model, score > 60.
	TierHeavy ModelTier = "heavy"
)

// ComplexityScore is the result of scoring a query.
type ComplexityScore struct {
	// Score is the clamped total in [0,100].
	Score int `json:"score"`

	// Level is the score bucket.
	Level ComplexityLevel `json:"level"`

	// Factors maps each contributing factor to its applied weight.
	Factors map[string]int `json:"factors"`

	// Reasoning names the top contributing factors for observability.
	Reasoning string `json:"reasoning"`
}

// ModeDecision is the result of mode detection.
type ModeDecision struct {
	// Mode is the chosen execution mode.
	Mode QueryMode `json:"mode"`

	// Complexity is the score the decision was based on.
	Complexity ComplexityScore `json:"complexity"`

	// Confidence expresses trust in the decision (0-1).
	Confidence float64 `json:"confidence"`

	// EscalationReason is set when an adjustment upgraded the mode.
	EscalationReason EscalationReason `json:"escalation_reason,omitempty"`

	// RecommendedModel is the reasoning tier matched to the score.
	RecommendedModel ModelTier `json:"recommended_model"`
}

// EscalationContext carries runtime signals for retry escalation.
type EscalationContext struct {
	// AttemptCount is how many times the query has been attempted.
	AttemptCount int `json:"attempt_count"`

	// CurrentMode is the mode of the attempt being evaluated.
	CurrentMode QueryMode `json:"current_mode"`

	// LastError is the error text of the previous attempt, if any.
	LastError string `json:"last_error,omitempty"`

	// LastLatencyMS is the elapsed time of the previous attempt.
	LastLatencyMS float64 `json:"last_latency_ms"`

	// SimilarSuccessRate is the observed success rate of similar
	// queries, when known.
	SimilarSuccessRate *float64 `json:"similar_success_rate,omitempty"`
}

// EscalationDecision is the result of evaluating runtime escalation.
type EscalationDecision struct {
	// Escalate reports whether the mode should be upgraded.
	Escalate bool `json:"escalate"`

	// Mode is the upgraded mode when Escalate is true.
	Mode QueryMode `json:"mode,omitempty"`

	// Reason explains the upgrade when Escalate is true.
	Reason EscalationReason `json:"reason,omitempty"`
}
