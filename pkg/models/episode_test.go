package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

func testContext() TaskContext {
	return TaskContext{
		Domain:     "web-api",
		Language:   "go",
		Framework:  "gin",
		Complexity: ComplexityModerate,
		Tags:       []string{"auth"},
	}
}

func TestNewEpisode(t *testing.T) {
	e := NewEpisode("build auth middleware", testContext(), TaskTypeCodeGeneration)
	assert.NotEqual(t, uuid.Nil, e.EpisodeID)
	assert.Equal(t, "build auth middleware", e.TaskDescription)
	assert.False(t, e.IsComplete())
	assert.Zero(t, e.Duration())
	require.NoError(t, e.Validate())
}

func TestAddStepMonotonic(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeTesting)

	require.NoError(t, e.AddStep(ExecutionStep{StepNumber: 1, Tool: "editor", Action: "write handler"}))
	require.NoError(t, e.AddStep(ExecutionStep{StepNumber: 2, Tool: "compiler", Action: "build"}))

	err := e.AddStep(ExecutionStep{StepNumber: 2, Tool: "compiler", Action: "rebuild"})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	err = e.AddStep(ExecutionStep{StepNumber: 5, Tool: "compiler", Action: "skip ahead"})
	require.Error(t, err)
	assert.Len(t, e.Steps, 2)
}

func TestCompleteOnce(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeDebugging)
	require.NoError(t, e.Complete(*SuccessOutcome("fixed", []string{"main.go"})))

	assert.True(t, e.IsComplete())
	assert.NotNil(t, e.EndTime)
	assert.False(t, e.EndTime.Before(e.StartTime))

	err := e.Complete(*FailureOutcome("again", ""))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestTagsNoDuplicates(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeAnalysis)
	e.AddTag("alpha")
	e.AddTag("beta")
	e.AddTag("alpha")
	assert.Equal(t, []string{"alpha", "beta"}, e.Tags)

	e.RemoveTag("alpha")
	assert.Equal(t, []string{"beta"}, e.Tags)
	e.RemoveTag("missing")
	assert.Equal(t, []string{"beta"}, e.Tags)

	e.SetTags([]string{"z", "a", "z", "m"})
	assert.Equal(t, []string{"a", "m", "z"}, e.Tags)
	assert.True(t, e.HasTag("m"))
	assert.False(t, e.HasTag("q"))
	require.NoError(t, e.Validate())
}

func TestRecordAppliedPattern(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeRefactoring)
	pid := uuid.New()

	e.RecordAppliedPattern(pid, ApplicationPending)
	require.Len(t, e.AppliedPatterns, 1)
	assert.Equal(t, ApplicationPending, e.AppliedPatterns[0].Outcome)

	// Re-recording updates the outcome in place.
	e.RecordAppliedPattern(pid, ApplicationHelped)
	require.Len(t, e.AppliedPatterns, 1)
	assert.Equal(t, ApplicationHelped, e.AppliedPatterns[0].Outcome)
}

func TestRecordExtractedPatternDeduplicates(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeTesting)
	pid := uuid.New()
	e.RecordExtractedPattern(pid)
	e.RecordExtractedPattern(pid)
	assert.Len(t, e.PatternIDs, 1)
}

func TestValidateRejectsBadEpisodes(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeTesting)
	e.TaskType = "interpretive_dance"
	assert.Error(t, e.Validate())

	e = NewEpisode("task", testContext(), TaskTypeTesting)
	before := e.StartTime.Add(-time.Hour)
	e.EndTime = &before
	assert.Error(t, e.Validate())

	e = NewEpisode("", testContext(), TaskTypeTesting)
	assert.Error(t, e.Validate())

	e = NewEpisode("task", testContext(), TaskTypeTesting)
	e.Tags = []string{"dup", "dup"}
	assert.Error(t, e.Validate())
}

func TestArchiveRoundTrip(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeTesting)
	assert.Nil(t, e.ArchivedAt)
	e.Archive()
	require.NotNil(t, e.ArchivedAt)
	first := *e.ArchivedAt
	e.Archive()
	assert.Equal(t, first, *e.ArchivedAt)
	e.Unarchive()
	assert.Nil(t, e.ArchivedAt)
}

func TestEffectiveTimestamp(t *testing.T) {
	e := NewEpisode("task", testContext(), TaskTypeTesting)
	assert.Equal(t, e.StartTime, e.EffectiveTimestamp())

	require.NoError(t, e.Complete(*SuccessOutcome("ok", nil)))
	assert.Equal(t, *e.EndTime, e.EffectiveTimestamp())
}

func TestContextMatch(t *testing.T) {
	a := TaskContext{Domain: "web-api", Language: "go", Tags: []string{"auth"}}
	b := TaskContext{Domain: "web-api", Language: "go", Tags: []string{"auth"}}
	assert.InDelta(t, 1.0, ContextMatch(a, b), 1e-9)

	c := TaskContext{Domain: "data", Language: "python"}
	assert.Equal(t, 0.0, ContextMatch(a, c))

	// Partial overlap: {web-api, go, auth} vs {web-api, rust} -> 1/4
	d := TaskContext{Domain: "web-api", Language: "rust"}
	assert.InDelta(t, 0.25, ContextMatch(a, d), 1e-9)

	assert.Equal(t, 0.0, ContextMatch(TaskContext{}, a))
}
