// Package capacity keeps episodic storage bounded: it scores episodes by
// relevance (quality weighted with recency), selects eviction victims under
// a configurable policy, and calibrates adaptive rewards against per-domain
// statistics.
package capacity

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

// Relevance weights. Quality dominates so a strong old episode outlives a
// weak fresh one.
const (
	qualityWeight = 0.7
	recencyWeight = 0.3
)

// recencyHalfScale is the e-folding time of the recency score in hours.
const recencyHalfScale = 24.0

// QualityScore extracts an episode's quality: the reflection's salient
// quality score when present, otherwise the clamped total reward.
func QualityScore(e *models.Episode) float64 {
	if e.Reflection != nil && e.Reflection.QualityScore != nil {
		return clamp01(*e.Reflection.QualityScore)
	}
	if e.Reward != nil {
		return clamp01(e.Reward.Total)
	}
	return 0
}

// RecencyScore maps episode age to (0, 1]: episodes from the last hour are
// near 1.0, a week old drops to about 0.0009 (exp(-7)).
func RecencyScore(e *models.Episode, now time.Time) float64 {
	age := now.Sub(e.EffectiveTimestamp())
	if age < 0 {
		age = 0
	}
	return math.Exp(-age.Hours() / recencyHalfScale)
}

// RelevanceScore combines quality and recency:
//
//	relevance = 0.7*quality + 0.3*recency
func RelevanceScore(e *models.Episode, now time.Time) float64 {
	return qualityWeight*QualityScore(e) + recencyWeight*RecencyScore(e, now)
}

// Scored pairs an episode id with its computed relevance.
type Scored struct {
	ID        uuid.UUID
	Relevance float64
}

// LowestRelevance returns the ids of the n lowest-scoring entries.
func LowestRelevance(scored []Scored, n int) []uuid.UUID {
	if n <= 0 || len(scored) == 0 {
		return nil
	}
	sorted := make([]Scored, len(scored))
	copy(sorted, scored)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Relevance < sorted[j].Relevance })
	if n > len(sorted) {
		n = len(sorted)
	}
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = sorted[i].ID
	}
	return ids
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
