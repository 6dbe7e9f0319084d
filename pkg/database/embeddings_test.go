package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestEmbeddingRoundTripAcrossDimensions(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, dim := range []int{384, 1024, 1536, 3072, 777} {
		id := uuid.New()
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(i%13) / 13
		}
		require.NoError(t, s.StoreEpisodeEmbedding(ctx, id, vec))

		got, err := s.GetEpisodeEmbedding(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, vec, got, "dimension %d", dim)
	}
}

func TestEmbeddingNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetEpisodeEmbedding(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestEmbeddingRejectsEmpty(t *testing.T) {
	s := newTestStorage(t)
	err := s.StoreEpisodeEmbedding(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestFindSimilarEpisodes(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	near := uuid.New()
	far := uuid.New()
	require.NoError(t, s.StoreEpisodeEmbedding(ctx, near, []float32{1, 0.1, 0}))
	require.NoError(t, s.StoreEpisodeEmbedding(ctx, far, []float32{0, 0, 1}))

	matches, err := s.FindSimilarEpisodes(ctx, []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, near, matches[0].OwnerID)
	assert.Greater(t, matches[0].Similarity, 0.9)
}

func TestFindSimilarOrderedAndLimited(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	exact := uuid.New()
	close1 := uuid.New()
	require.NoError(t, s.StoreEpisodeEmbedding(ctx, exact, []float32{1, 0, 0}))
	require.NoError(t, s.StoreEpisodeEmbedding(ctx, close1, []float32{1, 0.5, 0}))

	matches, err := s.FindSimilarEpisodes(ctx, []float32{1, 0, 0}, 1, 0.0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, exact, matches[0].OwnerID)
}

func TestFindSimilarKindSeparation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	episodeID := uuid.New()
	patternID := uuid.New()
	require.NoError(t, s.StoreEpisodeEmbedding(ctx, episodeID, unitVec(3, 0)))
	require.NoError(t, s.StorePatternEmbedding(ctx, patternID, unitVec(3, 0)))

	episodes, err := s.FindSimilarEpisodes(ctx, unitVec(3, 0), 10, 0.9)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, episodeID, episodes[0].OwnerID)

	patterns, err := s.FindSimilarPatterns(ctx, unitVec(3, 0), 10, 0.9)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, patternID, patterns[0].OwnerID)
}

func TestFindSimilarScansOnlyMatchingDimension(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	id384 := uuid.New()
	require.NoError(t, s.StoreEpisodeEmbedding(ctx, id384, unitVec(384, 0)))

	// A 1536-wide query cannot match a 384-wide vector.
	matches, err := s.FindSimilarEpisodes(ctx, unitVec(1536, 0), 10, 0.0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPatternStoreRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	p := models.NewToolSequencePattern(models.ToolSequencePayload{
		Tools:           []string{"editor", "compiler"},
		Context:         models.TaskContext{Domain: "web-api", Language: "go"},
		SuccessRate:     0.8,
		OccurrenceCount: 3,
	})
	require.NoError(t, s.StorePattern(ctx, p))

	got, err := s.GetPattern(ctx, p.PatternID)
	require.NoError(t, err)
	assert.Equal(t, p.PatternID, got.PatternID)
	assert.Equal(t, models.PatternToolSequence, got.Type)
	assert.Equal(t, p.ToolSequence.Tools, got.ToolSequence.Tools)
	assert.Equal(t, 0.8, got.SuccessRate())

	_, err = s.GetPattern(ctx, uuid.New())
	assert.True(t, errors.IsNotFound(err))
}

func TestListPatternsForContext(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	mk := func(domain string, rate float64) *models.Pattern {
		return models.NewToolSequencePattern(models.ToolSequencePayload{
			Tools: []string{"t"}, Context: models.TaskContext{Domain: domain}, SuccessRate: rate,
		})
	}
	require.NoError(t, s.StorePattern(ctx, mk("web-api", 0.9)))
	require.NoError(t, s.StorePattern(ctx, mk("web-api", 0.4)))
	require.NoError(t, s.StorePattern(ctx, mk("data", 0.7)))

	got, err := s.ListPatternsForContext(ctx, models.TaskContext{Domain: "web-api"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].SuccessRate(), "best success rate first")

	all, err := s.ListAllPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdatePatternEffectiveness(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	p := models.NewToolSequencePattern(models.ToolSequencePayload{
		Tools: []string{"t"}, Context: models.TaskContext{Domain: "d"}, SuccessRate: 0.5,
	})
	require.NoError(t, s.StorePattern(ctx, p))

	p.RecordRetrieval()
	p.RecordApplication(true, 0.3)
	require.NoError(t, s.UpdatePatternEffectiveness(ctx, p.PatternID, p.Effectiveness))

	got, err := s.GetPattern(ctx, p.PatternID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Effectiveness.TimesRetrieved)
	assert.Equal(t, 1, got.Effectiveness.TimesApplied)
	assert.InDelta(t, 0.3, got.Effectiveness.AvgRewardDelta, 1e-9)

	err = s.UpdatePatternEffectiveness(ctx, uuid.New(), p.Effectiveness)
	assert.True(t, errors.IsNotFound(err))
}

func TestHeuristicRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	h := models.NewHeuristic("flaky test", "pin the clock", 0.6)
	h.AddEvidence(uuid.New(), true)
	require.NoError(t, s.StoreHeuristic(ctx, h))

	got, err := s.GetHeuristic(ctx, h.HeuristicID)
	require.NoError(t, err)
	assert.Equal(t, h.Condition, got.Condition)
	assert.Equal(t, h.Action, got.Action)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Len(t, got.Evidence.EpisodeIDs, 1)

	listed, err := s.ListHeuristics(ctx, 0.5, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	listed, err = s.ListHeuristics(ctx, 1.01, 10)
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, s.DeleteHeuristic(ctx, h.HeuristicID))
	_, err = s.GetHeuristic(ctx, h.HeuristicID)
	assert.True(t, errors.IsNotFound(err))
}

func TestSummaryRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	e := sampleEpisode("web-api")
	require.NoError(t, s.StoreEpisode(ctx, e))

	summary := &models.EpisodeSummary{
		EpisodeID:        e.EpisodeID,
		SummaryText:      "implemented auth middleware with JWT validation",
		KeyConcepts:      []string{"jwt", "middleware"},
		KeySteps:         []string{"write handler", "build"},
		SummaryEmbedding: []float32{0.5, 0.5},
	}
	require.NoError(t, s.StoreEpisodeSummary(ctx, summary))

	got, err := s.GetEpisodeSummary(ctx, e.EpisodeID)
	require.NoError(t, err)
	assert.Equal(t, summary.SummaryText, got.SummaryText)
	assert.Equal(t, summary.KeyConcepts, got.KeyConcepts)
	assert.Equal(t, summary.KeySteps, got.KeySteps)
	assert.Equal(t, summary.SummaryEmbedding, got.SummaryEmbedding)
}

func TestSummaryRequiresEpisode(t *testing.T) {
	s := newTestStorage(t)
	err := s.StoreEpisodeSummary(context.Background(), &models.EpisodeSummary{
		EpisodeID: uuid.New(), SummaryText: "orphan",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}
