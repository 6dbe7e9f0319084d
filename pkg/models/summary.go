package models

import "github.com/google/uuid"

// EpisodeSummary is the compressed one-to-one representation of an episode,
// deleted together with it.
type EpisodeSummary struct {
	EpisodeID        uuid.UUID `json:"episode_id"`
	SummaryText      string    `json:"summary_text"`
	KeyConcepts      []string  `json:"key_concepts,omitempty"`
	KeySteps         []string  `json:"key_steps,omitempty"`
	SummaryEmbedding []float32 `json:"summary_embedding,omitempty"`
}

// DomainStatistics aggregates per-domain episode figures used to calibrate
// adaptive rewards. Statistics from fewer than MinReliableEpisodes episodes
// are ignored by the reward calculator.
type DomainStatistics struct {
	Domain          string  `json:"domain"`
	EpisodeCount    int     `json:"episode_count"`
	P50StepCount    float64 `json:"p50_step_count"`
	P50DurationSecs float64 `json:"p50_duration_secs"`
}

// MinReliableEpisodes is the sample size below which domain statistics are
// not trusted for reward calibration.
const MinReliableEpisodes = 5

// Reliable reports whether the statistics rest on enough episodes to be
// used for calibration.
func (s DomainStatistics) Reliable() bool {
	return s.EpisodeCount >= MinReliableEpisodes
}
