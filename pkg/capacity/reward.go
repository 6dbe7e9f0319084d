package capacity

import (
	"math"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

// RewardCalculator computes adaptive rewards for completed episodes,
// normalizing duration and step count against per-domain medians so that
// "fast" means fast for the domain, not fast in absolute terms.
type RewardCalculator struct {
	stats map[string]models.DomainStatistics
}

// NewRewardCalculator creates a calculator over the given domain statistics.
func NewRewardCalculator(stats []models.DomainStatistics) *RewardCalculator {
	byDomain := make(map[string]models.DomainStatistics, len(stats))
	for _, s := range stats {
		byDomain[s.Domain] = s
	}
	return &RewardCalculator{stats: byDomain}
}

// UpdateDomain replaces the statistics for one domain.
func (c *RewardCalculator) UpdateDomain(stats models.DomainStatistics) {
	c.stats[stats.Domain] = stats
}

// Calculate scores a completed episode. Components:
//
//	base:               outcome class (success 0.5, partial 0.3, failure 0.1)
//	efficiency:         duration and step count vs the domain median
//	complexity_bonus:   harder tasks earn a little extra
//	quality_multiplier: reflection quality, neutral 1.0 when absent
//	learning_bonus:     patterns extracted from the episode
//
// Incomplete episodes score zero across the board.
func (c *RewardCalculator) Calculate(e *models.Episode) models.RewardScore {
	if !e.IsComplete() {
		return models.RewardScore{}
	}

	score := models.RewardScore{
		Base:              baseReward(e.Outcome.Status),
		Efficiency:        c.efficiency(e),
		ComplexityBonus:   complexityBonus(e.Context.Complexity),
		QualityMultiplier: 1.0,
		LearningBonus:     learningBonus(e),
	}
	if e.Reflection != nil && e.Reflection.QualityScore != nil {
		score.QualityMultiplier = 0.5 + clamp01(*e.Reflection.QualityScore)
	}

	raw := score.Base + 0.3*score.Efficiency + score.ComplexityBonus + score.LearningBonus
	score.Total = clamp01(raw * score.QualityMultiplier)
	return score
}

// efficiency normalizes against the domain's p50 duration and step count.
// Positive deviation below the median raises the score; statistics from
// fewer than five episodes are ignored and yield the neutral 0.5.
func (c *RewardCalculator) efficiency(e *models.Episode) float64 {
	stats, ok := c.stats[e.Context.Domain]
	if !ok || !stats.Reliable() {
		return 0.5
	}

	durationZ := deviationBelowMedian(e.Duration().Seconds(), stats.P50DurationSecs)
	stepsZ := deviationBelowMedian(float64(len(e.Steps)), stats.P50StepCount)

	return clamp01(0.5 + 0.3*durationZ + 0.2*stepsZ)
}

// deviationBelowMedian returns how far the value sits below the median,
// scaled by the median itself: 0 at the median, positive below, negative
// above, bounded to [-1, 1].
func deviationBelowMedian(value, median float64) float64 {
	if median <= 0 {
		return 0
	}
	z := (median - value) / median
	return math.Max(-1, math.Min(1, z))
}

func baseReward(status models.OutcomeStatus) float64 {
	switch status {
	case models.OutcomeSuccess:
		return 0.5
	case models.OutcomePartialSuccess:
		return 0.3
	default:
		return 0.1
	}
}

func complexityBonus(level models.ComplexityLevel) float64 {
	switch level {
	case models.ComplexityModerate:
		return 0.05
	case models.ComplexityComplex:
		return 0.1
	default:
		return 0
	}
}

func learningBonus(e *models.Episode) float64 {
	patterns := len(e.PatternIDs)
	if patterns > 3 {
		patterns = 3
	}
	return 0.02 * float64(patterns)
}
