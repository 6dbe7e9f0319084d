package models

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// ApplicationOutcome records the effect of applying a pattern in an episode.
type ApplicationOutcome string

const (
	// ApplicationHelped means the pattern improved the outcome
	ApplicationHelped ApplicationOutcome = "helped"
	// ApplicationNoEffect means the pattern had no measurable effect
	ApplicationNoEffect ApplicationOutcome = "no_effect"
	// ApplicationHindered means the pattern made things worse
	ApplicationHindered ApplicationOutcome = "hindered"
	// ApplicationPending means the effect is not yet assessed
	ApplicationPending ApplicationOutcome = "pending"
)

// AppliedPattern links a pattern that was applied during an episode to the
// observed effect of applying it.
type AppliedPattern struct {
	PatternID uuid.UUID          `json:"pattern_id"`
	Outcome   ApplicationOutcome `json:"outcome"`
}

// Episode is the atomic unit of recorded experience: one agent task
// execution with its steps, outcome, reward, and learned artifacts.
type Episode struct {
	EpisodeID       uuid.UUID         `json:"episode_id"`
	TaskDescription string            `json:"task_description"`
	TaskType        TaskType          `json:"task_type"`
	Context         TaskContext       `json:"context"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	Steps           []ExecutionStep   `json:"steps"`
	Outcome         *TaskOutcome      `json:"outcome,omitempty"`
	Reward          *RewardScore      `json:"reward,omitempty"`
	Reflection      *Reflection       `json:"reflection,omitempty"`
	PatternIDs      []uuid.UUID       `json:"pattern_ids,omitempty"`
	AppliedPatterns []AppliedPattern  `json:"applied_patterns,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ArchivedAt      *time.Time        `json:"archived_at,omitempty"`
}

// NewEpisode starts a new episode for the given task.
func NewEpisode(taskDescription string, context TaskContext, taskType TaskType) *Episode {
	return &Episode{
		EpisodeID:       uuid.New(),
		TaskDescription: taskDescription,
		TaskType:        taskType,
		Context:         context,
		StartTime:       time.Now().UTC(),
		Metadata:        make(map[string]string),
	}
}

// IsComplete reports whether the episode has both an end time and an outcome.
func (e *Episode) IsComplete() bool {
	return e.EndTime != nil && e.Outcome != nil
}

// Duration returns the elapsed time of the episode, zero until completed.
func (e *Episode) Duration() time.Duration {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// AddStep appends an execution step. Step numbers must be monotonic from 1.
func (e *Episode) AddStep(step ExecutionStep) error {
	expected := len(e.Steps) + 1
	if step.StepNumber != expected {
		return errors.Newf(errors.KindValidation,
			"step number %d out of order, expected %d", step.StepNumber, expected)
	}
	e.Steps = append(e.Steps, step)
	return nil
}

// Complete marks the episode finished with the given outcome.
// Completing twice is a validation error.
func (e *Episode) Complete(outcome TaskOutcome) error {
	if e.IsComplete() {
		return errors.Newf(errors.KindValidation,
			"episode %s is already complete", e.EpisodeID)
	}
	now := time.Now().UTC()
	if now.Before(e.StartTime) {
		now = e.StartTime
	}
	e.EndTime = &now
	e.Outcome = &outcome
	return nil
}

// AddTag adds a tag; duplicates are ignored.
func (e *Episode) AddTag(tag string) {
	for _, existing := range e.Tags {
		if existing == tag {
			return
		}
	}
	e.Tags = append(e.Tags, tag)
}

// RemoveTag removes a tag if present.
func (e *Episode) RemoveTag(tag string) {
	for i, existing := range e.Tags {
		if existing == tag {
			e.Tags = append(e.Tags[:i], e.Tags[i+1:]...)
			return
		}
	}
}

// SetTags replaces the tag set, deduplicating and sorting for a canonical
// representation.
func (e *Episode) SetTags(tags []string) {
	seen := make(map[string]struct{}, len(tags))
	deduped := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		deduped = append(deduped, tag)
	}
	sort.Strings(deduped)
	e.Tags = deduped
}

// HasTag reports whether the episode carries the tag.
func (e *Episode) HasTag(tag string) bool {
	for _, existing := range e.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// RecordExtractedPattern links a pattern extracted from this episode.
func (e *Episode) RecordExtractedPattern(patternID uuid.UUID) {
	for _, existing := range e.PatternIDs {
		if existing == patternID {
			return
		}
	}
	e.PatternIDs = append(e.PatternIDs, patternID)
}

// RecordAppliedPattern records that a pattern was applied during the episode.
// Re-recording the same pattern updates its outcome.
func (e *Episode) RecordAppliedPattern(patternID uuid.UUID, outcome ApplicationOutcome) {
	for i, applied := range e.AppliedPatterns {
		if applied.PatternID == patternID {
			e.AppliedPatterns[i].Outcome = outcome
			return
		}
	}
	e.AppliedPatterns = append(e.AppliedPatterns, AppliedPattern{PatternID: patternID, Outcome: outcome})
}

// Archive marks the episode archived. Archived episodes are excluded from
// default listings but remain retrievable by ID.
func (e *Episode) Archive() {
	if e.ArchivedAt == nil {
		now := time.Now().UTC()
		e.ArchivedAt = &now
	}
}

// Unarchive clears the archived marker.
func (e *Episode) Unarchive() {
	e.ArchivedAt = nil
}

// Validate checks the episode's structural invariants.
func (e *Episode) Validate() error {
	if e.EpisodeID == uuid.Nil {
		return errors.New(errors.KindValidation, "episode id must not be nil")
	}
	if e.TaskDescription == "" {
		return errors.New(errors.KindValidation, "task description must not be empty")
	}
	if !e.TaskType.Valid() {
		return errors.Newf(errors.KindValidation, "unknown task type %q", e.TaskType)
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return errors.New(errors.KindValidation, "end time precedes start time")
	}
	for i, step := range e.Steps {
		if step.StepNumber != i+1 {
			return errors.Newf(errors.KindValidation,
				"step %d has number %d", i+1, step.StepNumber)
		}
	}
	seen := make(map[string]struct{}, len(e.Tags))
	for _, tag := range e.Tags {
		if _, ok := seen[tag]; ok {
			return errors.Newf(errors.KindValidation, "duplicate tag %q", tag)
		}
		seen[tag] = struct{}{}
	}
	return nil
}

// EffectiveTimestamp returns end time when present, start time otherwise.
// The synchronizer's MostRecent policy compares episodes by this value.
func (e *Episode) EffectiveTimestamp() time.Time {
	if e.EndTime != nil {
		return *e.EndTime
	}
	return e.StartTime
}
