package retrieval

import (
	"github.com/developer-mesh/memory-engine/pkg/models"
)

// DefaultMMRLambda balances relevance against diversity: 1.0 is pure
// relevance, 0.0 pure diversity.
const DefaultMMRLambda = 0.7

// MMRCandidate is one item under MMR selection. Items without embeddings
// are treated as minimally similar to everything.
type MMRCandidate struct {
	Relevance float64
	Embedding []float32
}

// MaxMarginalRelevance selects up to k candidate indexes, iteratively
// picking
//
//	argmax_s  lambda*rel(s) - (1-lambda)*max_{p in picked} sim(s, p)
//
// Candidates are expected in any order. For lambda > 0 the first pick is the
// most relevant item; at lambda 0 every first-round score is 0 and the
// earliest candidate is picked first.
func MaxMarginalRelevance(candidates []MMRCandidate, lambda float64, k int) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	picked := make([]int, 0, k)
	taken := make([]bool, len(candidates))

	for len(picked) < k {
		bestIdx := -1
		bestScore := 0.0
		for i := range candidates {
			if taken[i] {
				continue
			}
			score := lambda * candidates[i].Relevance
			if len(picked) > 0 {
				maxSim := 0.0
				for _, p := range picked {
					sim := candidateSimilarity(candidates[i], candidates[p])
					if sim > maxSim {
						maxSim = sim
					}
				}
				score -= (1 - lambda) * maxSim
			}
			// Ties resolve to the earlier candidate, keeping selection
			// deterministic.
			if bestIdx == -1 || score > bestScore {
				bestIdx = i
				bestScore = score
			}
		}
		picked = append(picked, bestIdx)
		taken[bestIdx] = true
	}
	return picked
}

// candidateSimilarity is the cosine similarity of two candidates'
// embeddings; a missing embedding on either side yields 0.
func candidateSimilarity(a, b MMRCandidate) float64 {
	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return 0
	}
	return models.CosineSimilarity(a.Embedding, b.Embedding)
}
