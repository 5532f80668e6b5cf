// Package learning stores routing decisions and their outcomes in a vector
// store so future similar queries can reuse routes that worked. Every
// operation is best-effort: a failed or disabled learning store degrades
// routing quality, never availability.
package learning

import (
	"time"

	"github.com/opsfabric/activator/internal/routing"
)

// Feedback values accepted on stored outcomes.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

// Decision is a routing decision to persist before execution.
type Decision struct {
	QueryID        string            `json:"query_id"`
	QueryText      string            `json:"query_text"`
	RouteType      routing.RouteType `json:"route_type"`
	Tool           string            `json:"tool"`
	ExecutionLayer string            `json:"execution_layer"`
	Confidence     float64           `json:"confidence"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// Outcome links a decision to its execution result.
type Outcome struct {
	OutcomeID     string    `json:"outcome_id"`
	QueryID       string    `json:"query_id"`
	Success       bool      `json:"success"`
	LatencyMS     int       `json:"latency_ms"`
	ErrorType     string    `json:"error_type,omitempty"`
	ResultSummary string    `json:"result_summary,omitempty"`
	UserFeedback  string    `json:"user_feedback,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SimilarRoute is a trusted past decision retrieved for reuse.
type SimilarRoute struct {
	QueryID        string            `json:"query_id"`
	QueryText      string            `json:"query_text"`
	Similarity     float64           `json:"similarity"`
	RouteType      routing.RouteType `json:"route_type"`
	Tool           string            `json:"tool"`
	ExecutionLayer string            `json:"execution_layer"`
	SuccessRate    float64           `json:"success_rate"`
	SampleCount    int               `json:"sample_count"`
	AvgLatencyMS   float64           `json:"avg_latency_ms"`
}
