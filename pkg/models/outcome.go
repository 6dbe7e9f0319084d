package models

// OutcomeStatus discriminates how an episode concluded.
type OutcomeStatus string

const (
	// OutcomeSuccess means the task fully succeeded
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomePartialSuccess means the task partially succeeded
	OutcomePartialSuccess OutcomeStatus = "partial_success"
	// OutcomeFailure means the task failed
	OutcomeFailure OutcomeStatus = "failure"
)

// TaskOutcome records how an episode ended. Artifacts are set for success
// and partial success; ErrorDetails for failure.
type TaskOutcome struct {
	Status       OutcomeStatus `json:"status"`
	Verdict      string        `json:"verdict,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Artifacts    []string      `json:"artifacts,omitempty"`
	ErrorDetails string        `json:"error_details,omitempty"`
}

// SuccessOutcome builds a success outcome.
func SuccessOutcome(verdict string, artifacts []string) *TaskOutcome {
	return &TaskOutcome{Status: OutcomeSuccess, Verdict: verdict, Artifacts: artifacts}
}

// PartialSuccessOutcome builds a partial success outcome.
func PartialSuccessOutcome(verdict, reason string, artifacts []string) *TaskOutcome {
	return &TaskOutcome{Status: OutcomePartialSuccess, Verdict: verdict, Reason: reason, Artifacts: artifacts}
}

// FailureOutcome builds a failure outcome.
func FailureOutcome(reason, errorDetails string) *TaskOutcome {
	return &TaskOutcome{Status: OutcomeFailure, Reason: reason, ErrorDetails: errorDetails}
}

// IsSuccess reports whether the outcome is a full success.
func (o *TaskOutcome) IsSuccess() bool {
	return o != nil && o.Status == OutcomeSuccess
}

// RewardScore is the computed reward for a completed episode.
// Total is the weighted sum of the components.
type RewardScore struct {
	Base              float64 `json:"base"`
	Efficiency        float64 `json:"efficiency"`
	ComplexityBonus   float64 `json:"complexity_bonus"`
	QualityMultiplier float64 `json:"quality_multiplier"`
	LearningBonus     float64 `json:"learning_bonus"`
	Total             float64 `json:"total"`
}

// Reflection captures the agent's own post-task assessment along with a
// quality score derived from salient features.
type Reflection struct {
	WhatWorked   []string `json:"what_worked,omitempty"`
	WhatFailed   []string `json:"what_failed,omitempty"`
	KeyInsights  []string `json:"key_insights,omitempty"`
	QualityScore *float64 `json:"quality_score,omitempty"`
}
