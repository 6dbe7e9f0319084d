package models

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// PatternType discriminates the pattern variants.
type PatternType string

const (
	// PatternToolSequence is a sequence of tools used successfully
	PatternToolSequence PatternType = "tool_sequence"
	// PatternDecisionPoint is a decision point with outcome statistics
	PatternDecisionPoint PatternType = "decision_point"
	// PatternErrorRecovery is an error recovery sequence
	PatternErrorRecovery PatternType = "error_recovery"
	// PatternContext is a context-based recommendation
	PatternContext PatternType = "context_pattern"
)

// PatternEffectiveness tracks the real-world impact of a pattern based on
// actual usage, distinct from its historical success rate.
type PatternEffectiveness struct {
	TimesRetrieved     int       `json:"times_retrieved"`
	TimesApplied       int       `json:"times_applied"`
	SuccessWhenApplied int       `json:"success_when_applied"`
	FailureWhenApplied int       `json:"failure_when_applied"`
	AvgRewardDelta     float64   `json:"avg_reward_delta"`
	LastUsed           time.Time `json:"last_used"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewPatternEffectiveness creates a zeroed tracker stamped now.
func NewPatternEffectiveness() PatternEffectiveness {
	now := time.Now().UTC()
	return PatternEffectiveness{LastUsed: now, CreatedAt: now}
}

// ApplicationSuccessRate returns the success ratio when applied.
// Untested patterns score a neutral 0.5.
func (pe *PatternEffectiveness) ApplicationSuccessRate() float64 {
	if pe.TimesApplied == 0 {
		return 0.5
	}
	return float64(pe.SuccessWhenApplied) / float64(pe.TimesApplied)
}

// UsageRate returns applied / retrieved, 0 when never retrieved.
func (pe *PatternEffectiveness) UsageRate() float64 {
	if pe.TimesRetrieved == 0 {
		return 0
	}
	return float64(pe.TimesApplied) / float64(pe.TimesRetrieved)
}

// Score combines success rate, usage confidence, and reward impact into a
// single effectiveness figure:
//
//	success_rate * (1 + ln(1+applied)/3) * max(0, 1 + avg_reward_delta)
func (pe *PatternEffectiveness) Score() float64 {
	usageWeight := math.Log1p(float64(pe.TimesApplied)) / 3.0
	rewardFactor := math.Max(0, 1.0+pe.AvgRewardDelta)
	return pe.ApplicationSuccessRate() * (1.0 + usageWeight) * rewardFactor
}

// RecordRetrieval counts a retrieval of this pattern in a query.
func (pe *PatternEffectiveness) RecordRetrieval() {
	pe.TimesRetrieved++
}

// RecordApplication records an application outcome and folds the reward
// delta into the moving average: newAvg = ((n-1)*oldAvg + delta) / n.
func (pe *PatternEffectiveness) RecordApplication(success bool, rewardDelta float64) {
	pe.TimesApplied++
	if success {
		pe.SuccessWhenApplied++
	} else {
		pe.FailureWhenApplied++
	}
	n := float64(pe.TimesApplied)
	pe.AvgRewardDelta = ((n-1)*pe.AvgRewardDelta + rewardDelta) / n
	pe.LastUsed = time.Now().UTC()
}

// ToolSequencePayload is the variant payload for tool-sequence patterns.
type ToolSequencePayload struct {
	Tools           []string      `json:"tools"`
	Context         TaskContext   `json:"context"`
	SuccessRate     float64       `json:"success_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	OccurrenceCount int           `json:"occurrence_count"`
}

// DecisionPointPayload is the variant payload for decision-point patterns.
type DecisionPointPayload struct {
	Condition    string       `json:"condition"`
	Action       string       `json:"action"`
	OutcomeStats OutcomeStats `json:"outcome_stats"`
	Context      TaskContext  `json:"context"`
}

// ErrorRecoveryPayload is the variant payload for error-recovery patterns.
type ErrorRecoveryPayload struct {
	ErrorType     string      `json:"error_type"`
	RecoverySteps []string    `json:"recovery_steps"`
	SuccessRate   float64     `json:"success_rate"`
	Context       TaskContext `json:"context"`
}

// ContextPatternPayload is the variant payload for context patterns.
type ContextPatternPayload struct {
	ContextFeatures     []string    `json:"context_features"`
	RecommendedApproach string      `json:"recommended_approach"`
	Evidence            []uuid.UUID `json:"evidence"`
	SuccessRate         float64     `json:"success_rate"`
}

// Pattern is a reusable generalization extracted from one or more episodes.
// Exactly one variant payload is set, selected by Type; Effectiveness is
// shared by every variant.
type Pattern struct {
	PatternID     uuid.UUID             `json:"pattern_id"`
	Type          PatternType           `json:"type"`
	ToolSequence  *ToolSequencePayload  `json:"tool_sequence,omitempty"`
	DecisionPoint *DecisionPointPayload `json:"decision_point,omitempty"`
	ErrorRecovery *ErrorRecoveryPayload `json:"error_recovery,omitempty"`
	ContextBased  *ContextPatternPayload `json:"context_pattern,omitempty"`
	Effectiveness PatternEffectiveness  `json:"effectiveness"`
}

// NewToolSequencePattern creates a tool-sequence pattern.
func NewToolSequencePattern(payload ToolSequencePayload) *Pattern {
	return &Pattern{
		PatternID:     uuid.New(),
		Type:          PatternToolSequence,
		ToolSequence:  &payload,
		Effectiveness: NewPatternEffectiveness(),
	}
}

// NewDecisionPointPattern creates a decision-point pattern.
func NewDecisionPointPattern(payload DecisionPointPayload) *Pattern {
	return &Pattern{
		PatternID:     uuid.New(),
		Type:          PatternDecisionPoint,
		DecisionPoint: &payload,
		Effectiveness: NewPatternEffectiveness(),
	}
}

// NewErrorRecoveryPattern creates an error-recovery pattern.
func NewErrorRecoveryPattern(payload ErrorRecoveryPayload) *Pattern {
	return &Pattern{
		PatternID:     uuid.New(),
		Type:          PatternErrorRecovery,
		ErrorRecovery: &payload,
		Effectiveness: NewPatternEffectiveness(),
	}
}

// NewContextPattern creates a context pattern.
func NewContextPattern(payload ContextPatternPayload) *Pattern {
	return &Pattern{
		PatternID:     uuid.New(),
		Type:          PatternContext,
		ContextBased:  &payload,
		Effectiveness: NewPatternEffectiveness(),
	}
}

// SuccessRate returns the variant-specific historical success rate.
func (p *Pattern) SuccessRate() float64 {
	switch p.Type {
	case PatternToolSequence:
		return p.ToolSequence.SuccessRate
	case PatternDecisionPoint:
		return p.DecisionPoint.OutcomeStats.SuccessRate()
	case PatternErrorRecovery:
		return p.ErrorRecovery.SuccessRate
	case PatternContext:
		return p.ContextBased.SuccessRate
	}
	return 0
}

// Context returns the task context the pattern was learned in, nil for
// context patterns whose features replace a structured context.
func (p *Pattern) Context() *TaskContext {
	switch p.Type {
	case PatternToolSequence:
		return &p.ToolSequence.Context
	case PatternDecisionPoint:
		return &p.DecisionPoint.Context
	case PatternErrorRecovery:
		return &p.ErrorRecovery.Context
	}
	return nil
}

// Domain returns the domain the pattern belongs to, empty when unknown.
func (p *Pattern) Domain() string {
	if ctx := p.Context(); ctx != nil {
		return ctx.Domain
	}
	return ""
}

// SampleSize returns the number of observations behind the pattern.
func (p *Pattern) SampleSize() int {
	switch p.Type {
	case PatternToolSequence:
		return p.ToolSequence.OccurrenceCount
	case PatternDecisionPoint:
		return p.DecisionPoint.OutcomeStats.TotalCount
	case PatternErrorRecovery:
		return 1
	case PatternContext:
		return len(p.ContextBased.Evidence)
	}
	return 0
}

// RecordRetrieval counts a retrieval of this pattern.
func (p *Pattern) RecordRetrieval() {
	p.Effectiveness.RecordRetrieval()
}

// RecordApplication records an application outcome with its reward delta.
func (p *Pattern) RecordApplication(success bool, rewardDelta float64) {
	p.Effectiveness.RecordApplication(success, rewardDelta)
}

// Validate checks the pattern's structural invariants: exactly one variant
// payload present and matching the type, success rate within [0,1], and the
// effectiveness application counts consistent.
func (p *Pattern) Validate() error {
	if p.PatternID == uuid.Nil {
		return errors.New(errors.KindValidation, "pattern id must not be nil")
	}
	payloads := 0
	if p.ToolSequence != nil {
		payloads++
	}
	if p.DecisionPoint != nil {
		payloads++
	}
	if p.ErrorRecovery != nil {
		payloads++
	}
	if p.ContextBased != nil {
		payloads++
	}
	if payloads != 1 {
		return errors.Newf(errors.KindValidation, "pattern must carry exactly one payload, has %d", payloads)
	}
	switch p.Type {
	case PatternToolSequence:
		if p.ToolSequence == nil {
			return errors.New(errors.KindValidation, "tool_sequence payload missing")
		}
	case PatternDecisionPoint:
		if p.DecisionPoint == nil {
			return errors.New(errors.KindValidation, "decision_point payload missing")
		}
	case PatternErrorRecovery:
		if p.ErrorRecovery == nil {
			return errors.New(errors.KindValidation, "error_recovery payload missing")
		}
	case PatternContext:
		if p.ContextBased == nil {
			return errors.New(errors.KindValidation, "context_pattern payload missing")
		}
	default:
		return errors.Newf(errors.KindValidation, "unknown pattern type %q", p.Type)
	}
	if rate := p.SuccessRate(); rate < 0 || rate > 1 {
		return errors.Newf(errors.KindValidation, "success rate %f out of range", rate)
	}
	pe := p.Effectiveness
	if pe.TimesApplied != pe.SuccessWhenApplied+pe.FailureWhenApplied {
		return errors.New(errors.KindValidation,
			"times_applied must equal success_when_applied + failure_when_applied")
	}
	return nil
}
