package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

// Scenario S5: candidates 1&2 nearly identical, 3&4 nearly identical,
// 1 vs 3 orthogonal. MMR at lambda 0.7 with K=2 picks {1, 3}, not {1, 2}.
func TestMMRBalance(t *testing.T) {
	candidates := []MMRCandidate{
		{Relevance: 0.90, Embedding: []float32{1, 0, 0}},
		{Relevance: 0.85, Embedding: []float32{0.995, 0.0999, 0}}, // ~cosine 0.995 with #0
		{Relevance: 0.80, Embedding: []float32{0, 0, 1}},
		{Relevance: 0.75, Embedding: []float32{0, 0.0999, 0.995}},
	}

	picked := MaxMarginalRelevance(candidates, 0.7, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, 0, picked[0], "top pick matches the pure-relevance top item")
	assert.Equal(t, 2, picked[1], "second pick trades relevance for diversity")
}

func TestMMRPureRelevance(t *testing.T) {
	candidates := []MMRCandidate{
		{Relevance: 0.9, Embedding: []float32{1, 0}},
		{Relevance: 0.8, Embedding: []float32{1, 0.01}},
		{Relevance: 0.1, Embedding: []float32{0, 1}},
	}
	// lambda 1.0 ignores similarity entirely.
	picked := MaxMarginalRelevance(candidates, 1.0, 2)
	assert.Equal(t, []int{0, 1}, picked)
}

func TestMMRPureDiversity(t *testing.T) {
	candidates := []MMRCandidate{
		{Relevance: 0.9, Embedding: []float32{1, 0}},
		{Relevance: 0.8, Embedding: []float32{1, 0.001}},
		{Relevance: 0.1, Embedding: []float32{0, 1}},
	}
	// lambda 0 ignores relevance: the first pick falls to the earliest
	// candidate and the second maximizes dissimilarity from it.
	picked := MaxMarginalRelevance(candidates, 0.0, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, 2, picked[1])
}

func TestMMRDiversityTarget(t *testing.T) {
	// A balanced corpus: three tight clusters of two. K=3 at lambda 0.7
	// should land one pick per cluster, keeping average pairwise
	// similarity low.
	candidates := []MMRCandidate{
		{Relevance: 0.9, Embedding: []float32{1, 0, 0}},
		{Relevance: 0.88, Embedding: []float32{0.99, 0.14, 0}},
		{Relevance: 0.86, Embedding: []float32{0, 1, 0}},
		{Relevance: 0.84, Embedding: []float32{0, 0.99, 0.14}},
		{Relevance: 0.82, Embedding: []float32{0, 0, 1}},
		{Relevance: 0.80, Embedding: []float32{0.14, 0, 0.99}},
	}

	picked := MaxMarginalRelevance(candidates, 0.7, 3)
	require.Len(t, picked, 3)
	assert.Equal(t, 0, picked[0])

	var totalSim float64
	var pairs int
	for i := 0; i < len(picked); i++ {
		for j := i + 1; j < len(picked); j++ {
			totalSim += models.CosineSimilarity(
				candidates[picked[i]].Embedding, candidates[picked[j]].Embedding)
			pairs++
		}
	}
	assert.LessOrEqual(t, totalSim/float64(pairs), 0.5,
		"average pairwise similarity of the selection must stay low")
}

func TestMMRMissingEmbeddingsAreMinimallySimilar(t *testing.T) {
	candidates := []MMRCandidate{
		{Relevance: 0.9, Embedding: []float32{1, 0}},
		{Relevance: 0.8}, // no embedding
		{Relevance: 0.7, Embedding: []float32{1, 0.01}},
	}
	picked := MaxMarginalRelevance(candidates, 0.7, 2)
	require.Len(t, picked, 2)
	assert.Equal(t, []int{0, 1}, picked,
		"the embedding-less candidate counts as dissimilar and wins over the near-duplicate")
}

func TestMMREdgeCases(t *testing.T) {
	assert.Nil(t, MaxMarginalRelevance(nil, 0.7, 3))
	assert.Nil(t, MaxMarginalRelevance([]MMRCandidate{{Relevance: 1}}, 0.7, 0))

	picked := MaxMarginalRelevance([]MMRCandidate{{Relevance: 0.5}}, 0.7, 10)
	assert.Equal(t, []int{0}, picked, "k larger than the pool returns everything")
}
