package routing

import "strings"

// Latency budgets per mode, in milliseconds. Exceeding the budget on a
// retry escalates the mode.
var latencyThresholds = map[QueryMode]float64{
	ModeToolUsing: 30000,
	ModeBoth:      60000,
}

// maxEscalationAttempts caps retries once the heaviest mode is reached.
const maxEscalationAttempts = 2

// EscalationPolicy decides whether a retry should upgrade its mode
// based on runtime signals. Decisions are deterministic.
type EscalationPolicy struct{}

// NewEscalationPolicy creates an escalation policy.
func NewEscalationPolicy() *EscalationPolicy {
	return &EscalationPolicy{}
}

// ShouldEscalate evaluates runtime context and returns the upgrade
// decision. It never escalates past both, and stops entirely once the
// heaviest mode has been attempted more than twice.
func (p *EscalationPolicy) ShouldEscalate(ec EscalationContext) EscalationDecision {
	if ec.CurrentMode == ModeBoth && ec.AttemptCount > maxEscalationAttempts {
		return EscalationDecision{}
	}

	if ec.LastError != "" {
		reason := ReasonError
		if strings.Contains(strings.ToLower(ec.LastError), "timeout") {
			reason = ReasonTimeout
		}
		switch ec.CurrentMode {
		case ModeDirect:
			return EscalationDecision{Escalate: true, Mode: ModeToolUsing, Reason: reason}
		case ModeToolUsing:
			return EscalationDecision{Escalate: true, Mode: ModeBoth, Reason: reason}
		}
		return EscalationDecision{}
	}

	if threshold, ok := latencyThresholds[ec.CurrentMode]; ok && ec.LastLatencyMS > threshold {
		if ec.CurrentMode == ModeToolUsing {
			return EscalationDecision{Escalate: true, Mode: ModeBoth, Reason: ReasonTimeout}
		}
	}

	if ec.SimilarSuccessRate != nil && *ec.SimilarSuccessRate < 0.5 {
		switch ec.CurrentMode {
		case ModeDirect:
			return EscalationDecision{Escalate: true, Mode: ModeToolUsing, Reason: ReasonPreviousFailure}
		case ModeToolUsing:
			return EscalationDecision{Escalate: true, Mode: ModeBoth, Reason: ReasonPreviousFailure}
		}
	}

	return EscalationDecision{}
}
