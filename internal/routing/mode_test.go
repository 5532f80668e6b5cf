package routing

import (
	"math"
	"testing"
)

const confTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < confTolerance
}

func TestDetectBaseModes(t *testing.T) {
	detector := NewModeDetector()
	scorer := NewComplexityScorer()

	tests := []struct {
		name     string
		query    string
		wantMode QueryMode
		wantConf float64
	}{
		{
			name:     "action only",
			query:    "restart the office access point",
			wantMode: ModeToolUsing,
			wantConf: 0.85,
		},
		{
			name:     "answer only",
			query:    "what is the guest vlan?",
			wantMode: ModeDirect,
			wantConf: 0.85,
		},
		{
			name:     "action and answer",
			query:    "update the firmware and explain what changed",
			wantMode: ModeBoth,
			wantConf: 0.75,
		},
		{
			name:     "no signal falls back on moderate complexity",
			query:    "wifi",
			wantMode: ModeToolUsing,
			wantConf: 0.75,
		},
		{
			name:     "no signal falls back on complex complexity",
			query:    "multiple devices across several sites need review",
			wantMode: ModeBoth,
			wantConf: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complexity := scorer.Score(tt.query, nil)
			decision := detector.Detect(tt.query, complexity, PriorSignals{})

			if decision.Mode != tt.wantMode {
				t.Errorf("Mode = %s, want %s (complexity: %+v)", decision.Mode, tt.wantMode, complexity)
			}
			if !almostEqual(decision.Confidence, tt.wantConf) {
				t.Errorf("Confidence = %v, want %v", decision.Confidence, tt.wantConf)
			}
		})
	}
}

func TestDetectLowPriorConfidence(t *testing.T) {
	detector := NewModeDetector()
	scorer := NewComplexityScorer()

	// Direct answer mode at 0.85; a weak prior escalates one step and
	// drops confidence by 0.2.
	query := "what is the guest vlan?"
	complexity := scorer.Score(query, nil)
	priorConf := 0.4

	decision := detector.Detect(query, complexity, PriorSignals{Confidence: &priorConf})

	if decision.Mode != ModeToolUsing {
		t.Errorf("Mode = %s, want %s", decision.Mode, ModeToolUsing)
	}
	if !almostEqual(decision.Confidence, 0.65) {
		t.Errorf("Confidence = %v, want 0.65", decision.Confidence)
	}
	if decision.EscalationReason != ReasonLowConfidence {
		t.Errorf("EscalationReason = %s, want %s", decision.EscalationReason, ReasonLowConfidence)
	}
}

func TestDetectPriorFailure(t *testing.T) {
	detector := NewModeDetector()
	scorer := NewComplexityScorer()

	query := "restart the office access point"
	complexity := scorer.Score(query, nil)
	failed := false

	decision := detector.Detect(query, complexity, PriorSignals{Success: &failed})

	if decision.Mode != ModeBoth {
		t.Errorf("Mode = %s, want %s", decision.Mode, ModeBoth)
	}
	if !almostEqual(decision.Confidence, 0.55) {
		t.Errorf("Confidence = %v, want 0.55", decision.Confidence)
	}
	if decision.EscalationReason != ReasonPreviousFailure {
		t.Errorf("EscalationReason = %s, want %s", decision.EscalationReason, ReasonPreviousFailure)
	}
}

func TestDetectInvestigationForcesBoth(t *testing.T) {
	detector := NewModeDetector()
	scorer := NewComplexityScorer()

	query := "why is the wifi so slow, please investigate"
	complexity := scorer.Score(query, nil)

	decision := detector.Detect(query, complexity, PriorSignals{})

	if decision.Mode != ModeBoth {
		t.Errorf("Mode = %s, want %s", decision.Mode, ModeBoth)
	}
	if !almostEqual(decision.Confidence, 0.7) {
		t.Errorf("Confidence = %v, want 0.7", decision.Confidence)
	}
	if decision.EscalationReason != ReasonInvestigation {
		t.Errorf("EscalationReason = %s, want %s", decision.EscalationReason, ReasonInvestigation)
	}
	if decision.RecommendedModel != TierHeavy {
		t.Errorf("RecommendedModel = %s, want %s", decision.RecommendedModel, TierHeavy)
	}
}

func TestEscalateMode(t *testing.T) {
	tests := []struct {
		mode QueryMode
		want QueryMode
	}{
		{ModeDirect, ModeToolUsing},
		{ModeToolUsing, ModeBoth},
		{ModeBoth, ModeBoth},
	}

	for _, tt := range tests {
		if got := escalateMode(tt.mode); got != tt.want {
			t.Errorf("escalateMode(%s) = %s, want %s", tt.mode, got, tt.want)
		}
	}
}

func TestModelTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  ModelTier
	}{
		{0, TierLightweight},
		{30, TierLightweight},
		{31, TierMid},
		{60, TierMid},
		{61, TierHeavy},
		{100, TierHeavy},
	}

	for _, tt := range tests {
		if got := modelTierFor(tt.score); got != tt.want {
			t.Errorf("modelTierFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
