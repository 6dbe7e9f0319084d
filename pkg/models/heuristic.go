package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// HeuristicEvidence tracks the episodes supporting a heuristic and its
// rolling success rate when followed.
type HeuristicEvidence struct {
	EpisodeIDs   []uuid.UUID `json:"episode_ids,omitempty"`
	SuccessCount int         `json:"success_count"`
	FailureCount int         `json:"failure_count"`
}

// SuccessRate returns the observed success ratio of the heuristic.
func (ev HeuristicEvidence) SuccessRate() float64 {
	total := ev.SuccessCount + ev.FailureCount
	if total == 0 {
		return 0
	}
	return float64(ev.SuccessCount) / float64(total)
}

// Heuristic is a natural-language rule linking a condition to an action,
// with a confidence derived from supporting evidence.
type Heuristic struct {
	HeuristicID uuid.UUID         `json:"heuristic_id"`
	Condition   string            `json:"condition"`
	Action      string            `json:"action"`
	Confidence  float64           `json:"confidence"`
	Evidence    HeuristicEvidence `json:"evidence"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewHeuristic creates a heuristic with the given rule and confidence.
func NewHeuristic(condition, action string, confidence float64) *Heuristic {
	now := time.Now().UTC()
	return &Heuristic{
		HeuristicID: uuid.New(),
		Condition:   condition,
		Action:      action,
		Confidence:  confidence,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddEvidence links a supporting episode and records whether following the
// heuristic succeeded, then refreshes confidence from the rolling rate.
func (h *Heuristic) AddEvidence(episodeID uuid.UUID, success bool) {
	h.Evidence.EpisodeIDs = append(h.Evidence.EpisodeIDs, episodeID)
	if success {
		h.Evidence.SuccessCount++
	} else {
		h.Evidence.FailureCount++
	}
	h.Confidence = h.Evidence.SuccessRate()
	h.UpdatedAt = time.Now().UTC()
}

// Validate checks the heuristic's structural invariants.
func (h *Heuristic) Validate() error {
	if h.HeuristicID == uuid.Nil {
		return errors.New(errors.KindValidation, "heuristic id must not be nil")
	}
	if h.Condition == "" || h.Action == "" {
		return errors.New(errors.KindValidation, "condition and action must not be empty")
	}
	if h.Confidence < 0 || h.Confidence > 1 {
		return errors.Newf(errors.KindValidation, "confidence %f out of range", h.Confidence)
	}
	return nil
}
