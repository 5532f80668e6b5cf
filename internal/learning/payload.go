package learning

import "time"

// decisionPayload builds the point payload stored at decision time. Stats
// fields start at their pre-outcome values; StoreOutcome advances them.
func decisionPayload(d Decision) map[string]any {
	payload := map[string]any{
		"query_id":        d.QueryID,
		"query_text":      d.QueryText,
		"route_type":      string(d.RouteType),
		"tool":            d.Tool,
		"execution_layer": d.ExecutionLayer,
		"confidence":      d.Confidence,
		"timestamp":       d.Timestamp.UTC().Format(time.RFC3339),
		"success":         nil,
		"success_rate":    0.0,
		"sample_count":    1,
		"avg_latency_ms":  0.0,
	}

	for k, v := range d.Metadata {
		// The payload encoder takes []any, not []string.
		if s, ok := v.([]string); ok {
			list := make([]any, len(s))
			for i, item := range s {
				list[i] = item
			}
			v = list
		}
		payload[k] = v
	}

	return payload
}

// outcomePayload builds the outcome point payload. Empty optional fields
// store as nulls so feedback can patch them in place later.
func outcomePayload(o Outcome) map[string]any {
	return map[string]any{
		"outcome_id":     o.OutcomeID,
		"query_id":       o.QueryID,
		"success":        o.Success,
		"latency_ms":     o.LatencyMS,
		"error_type":     nullable(o.ErrorType),
		"result_summary": nullable(o.ResultSummary),
		"user_feedback":  nullable(o.UserFeedback),
		"timestamp":      o.Timestamp.UTC().Format(time.RFC3339),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// pointStats are the running per-decision aggregates kept on the point.
type pointStats struct {
	SuccessRate  float64
	SampleCount  int
	AvgLatencyMS float64
}

// statsFromPayload reads the running aggregates off a decision payload.
// Missing or differently typed values read as zero.
func statsFromPayload(p map[string]any) pointStats {
	return pointStats{
		SuccessRate:  payloadFloat(p, "success_rate"),
		SampleCount:  payloadInt(p, "sample_count"),
		AvgLatencyMS: payloadFloat(p, "avg_latency_ms"),
	}
}

// advance folds one more outcome into the incremental means.
func (s pointStats) advance(success bool, latencyMS float64) pointStats {
	n := s.SampleCount + 1
	hit := 0.0
	if success {
		hit = 1
	}

	return pointStats{
		SuccessRate:  (s.SuccessRate*float64(s.SampleCount) + hit) / float64(n),
		SampleCount:  n,
		AvgLatencyMS: (s.AvgLatencyMS*float64(s.SampleCount) + latencyMS) / float64(n),
	}
}

// Payload readers. The vector store hands integers back as int64 and
// doubles as float64; these smooth over both.

func payloadString(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
