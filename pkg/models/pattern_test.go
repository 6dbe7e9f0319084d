package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolSequenceFixture() *Pattern {
	return NewToolSequencePattern(ToolSequencePayload{
		Tools:           []string{"editor", "compiler"},
		Context:         TaskContext{Domain: "web-api", Language: "go"},
		SuccessRate:     0.8,
		AvgLatency:      250 * time.Millisecond,
		OccurrenceCount: 4,
	})
}

func TestPatternVariantAccessors(t *testing.T) {
	ts := toolSequenceFixture()
	assert.Equal(t, 0.8, ts.SuccessRate())
	assert.Equal(t, "web-api", ts.Domain())
	assert.Equal(t, 4, ts.SampleSize())
	require.NoError(t, ts.Validate())

	dp := NewDecisionPointPattern(DecisionPointPayload{
		Condition:    "tests failing",
		Action:       "bisect",
		OutcomeStats: OutcomeStats{SuccessCount: 3, FailureCount: 1, TotalCount: 4},
		Context:      TaskContext{Domain: "ci"},
	})
	assert.InDelta(t, 0.75, dp.SuccessRate(), 1e-9)
	assert.Equal(t, 4, dp.SampleSize())
	require.NoError(t, dp.Validate())

	er := NewErrorRecoveryPattern(ErrorRecoveryPayload{
		ErrorType:     "compile_error",
		RecoverySteps: []string{"read error", "fix import"},
		SuccessRate:   1.0,
		Context:       TaskContext{Domain: "web-api"},
	})
	assert.Equal(t, 1.0, er.SuccessRate())
	assert.Equal(t, 1, er.SampleSize())
	require.NoError(t, er.Validate())

	cp := NewContextPattern(ContextPatternPayload{
		ContextFeatures:     []string{"go", "auth"},
		RecommendedApproach: "use middleware",
		SuccessRate:         0.6,
	})
	assert.Nil(t, cp.Context())
	assert.Equal(t, "", cp.Domain())
	require.NoError(t, cp.Validate())
}

func TestEffectivenessNeutralWhenUntested(t *testing.T) {
	pe := NewPatternEffectiveness()
	assert.Equal(t, 0.5, pe.ApplicationSuccessRate())
	assert.Equal(t, 0.0, pe.UsageRate())
}

func TestRecordApplicationMovingAverage(t *testing.T) {
	p := toolSequenceFixture()

	p.RecordApplication(true, 0.4)
	assert.InDelta(t, 0.4, p.Effectiveness.AvgRewardDelta, 1e-9)

	p.RecordApplication(false, -0.2)
	// ((2-1)*0.4 + (-0.2)) / 2 = 0.1
	assert.InDelta(t, 0.1, p.Effectiveness.AvgRewardDelta, 1e-9)

	p.RecordApplication(true, 0.1)
	// ((3-1)*0.1 + 0.1) / 3 = 0.1
	assert.InDelta(t, 0.1, p.Effectiveness.AvgRewardDelta, 1e-9)

	assert.Equal(t, 3, p.Effectiveness.TimesApplied)
	assert.Equal(t, 2, p.Effectiveness.SuccessWhenApplied)
	assert.Equal(t, 1, p.Effectiveness.FailureWhenApplied)
	require.NoError(t, p.Validate())
}

func TestEffectivenessScore(t *testing.T) {
	pe := NewPatternEffectiveness()
	pe.RecordApplication(true, 0.5)
	pe.RecordApplication(true, 0.5)

	// success 1.0, usage weight ln(3)/3, reward factor 1.5
	want := 1.0 * (1 + math.Log1p(2)/3) * 1.5
	assert.InDelta(t, want, pe.Score(), 1e-9)

	// Strongly negative reward deltas floor the score at zero.
	bad := NewPatternEffectiveness()
	bad.RecordApplication(true, -2.0)
	assert.Equal(t, 0.0, bad.Score())
}

func TestRecordRetrieval(t *testing.T) {
	p := toolSequenceFixture()
	p.RecordRetrieval()
	p.RecordRetrieval()
	assert.Equal(t, 2, p.Effectiveness.TimesRetrieved)
}

func TestPatternValidateRejectsInvalid(t *testing.T) {
	p := toolSequenceFixture()
	p.ToolSequence.SuccessRate = 1.5
	assert.Error(t, p.Validate())

	p = toolSequenceFixture()
	p.DecisionPoint = &DecisionPointPayload{}
	assert.Error(t, p.Validate(), "two payloads must be rejected")

	p = toolSequenceFixture()
	p.Effectiveness.TimesApplied = 3
	p.Effectiveness.SuccessWhenApplied = 1
	p.Effectiveness.FailureWhenApplied = 1
	assert.Error(t, p.Validate())

	p = toolSequenceFixture()
	p.Type = PatternDecisionPoint
	assert.Error(t, p.Validate(), "type must match payload")
}
