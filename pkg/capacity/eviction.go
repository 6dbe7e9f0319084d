package capacity

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

// EvictionPolicy selects how eviction victims are ranked.
type EvictionPolicy int

const (
	// PolicyRelevanceWeighted evicts the lowest 0.7*quality + 0.3*recency
	PolicyRelevanceWeighted EvictionPolicy = iota
	// PolicyLRU evicts the episodes least recently touched
	PolicyLRU
	// PolicyLFU evicts the episodes with the least pattern activity
	PolicyLFU
)

// String returns the policy name.
func (p EvictionPolicy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	default:
		return "relevance_weighted"
	}
}

// Manager enforces an episode capacity bound under a policy.
type Manager struct {
	maxEpisodes int
	policy      EvictionPolicy
}

// NewManager creates a capacity manager.
func NewManager(maxEpisodes int, policy EvictionPolicy) *Manager {
	return &Manager{maxEpisodes: maxEpisodes, policy: policy}
}

// MaxEpisodes returns the configured capacity.
func (m *Manager) MaxEpisodes() int { return m.maxEpisodes }

// Policy returns the configured eviction policy.
func (m *Manager) Policy() EvictionPolicy { return m.policy }

// CanStore reports whether another episode fits without eviction.
func (m *Manager) CanStore(currentCount int) bool {
	return currentCount < m.maxEpisodes
}

// EvictIfNeeded returns the episode ids to evict so that one more episode
// fits within capacity: the lowest-ranking count-max+1 entries, empty when
// under capacity.
func (m *Manager) EvictIfNeeded(episodes []*models.Episode) []uuid.UUID {
	return EvictIfNeeded(episodes, m.maxEpisodes, m.policy)
}

// EvictIfNeeded ranks episodes under the policy and returns the victims
// needed to bring count below maxEpisodes with room for one insert.
func EvictIfNeeded(episodes []*models.Episode, maxEpisodes int, policy EvictionPolicy) []uuid.UUID {
	if len(episodes) < maxEpisodes {
		return nil
	}
	n := len(episodes) - maxEpisodes + 1

	ranked := make([]*models.Episode, len(episodes))
	copy(ranked, episodes)

	now := time.Now().UTC()
	switch policy {
	case PolicyLRU:
		sort.Slice(ranked, func(i, j int) bool {
			return ranked[i].EffectiveTimestamp().Before(ranked[j].EffectiveTimestamp())
		})
	case PolicyLFU:
		sort.Slice(ranked, func(i, j int) bool {
			return patternActivity(ranked[i]) < patternActivity(ranked[j])
		})
	default:
		sort.Slice(ranked, func(i, j int) bool {
			return RelevanceScore(ranked[i], now) < RelevanceScore(ranked[j], now)
		})
	}

	if n > len(ranked) {
		n = len(ranked)
	}
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		ids[i] = ranked[i].EpisodeID
	}
	return ids
}

// patternActivity approximates how often an episode's experience is reused:
// patterns extracted from it plus patterns applied during it.
func patternActivity(e *models.Episode) int {
	return len(e.PatternIDs) + len(e.AppliedPatterns)
}
