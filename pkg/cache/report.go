package cache

// Stats is a point-in-time snapshot of the cache's counters.
type Stats struct {
	Hits              uint64        `json:"hits"`
	Misses            uint64        `json:"misses"`
	Evictions         uint64        `json:"evictions"`
	SizeEvictions     uint64        `json:"size_evictions"`
	TTLEvictions      uint64        `json:"ttl_evictions"`
	PressureEvictions uint64        `json:"pressure_evictions"`
	TTLAdaptations    uint64        `json:"ttl_adaptations"`
	PressureChanges   uint64        `json:"pressure_changes"`
	PressureLevel     PressureLevel `json:"pressure_level"`
	Size              int           `json:"size"`
}

// HitRate returns hits / (hits + misses), 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats snapshots the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:              c.hits.Load(),
		Misses:            c.misses.Load(),
		Evictions:         c.evictions.Load(),
		SizeEvictions:     c.sizeEvictions.Load(),
		TTLEvictions:      c.ttlEvictions.Load(),
		PressureEvictions: c.pressureEvictions.Load(),
		TTLAdaptations:    c.ttlAdaptations.Load(),
		PressureChanges:   c.pressureChanges.Load(),
		PressureLevel:     c.PressureLevel(),
		Size:              c.Size(),
	}
}

// EffectivenessReport assesses how well the cache is working and suggests
// tuning, mirroring what operators previously derived by hand from raw
// counters.
type EffectivenessReport struct {
	HitRatePercent     float64       `json:"hit_rate_percent"`
	PressureLevel      PressureLevel `json:"pressure_level"`
	ItemCount          int           `json:"item_count"`
	TotalEvictions     uint64        `json:"total_evictions"`
	PressureEvictions  uint64        `json:"pressure_evictions"`
	TTLAdaptations     uint64        `json:"ttl_adaptations"`
	EffectivenessScore float64       `json:"effectiveness_score"`
	Recommendations    []string      `json:"recommendations"`
}

// Effectiveness builds the report from the current counters.
func (c *Cache) Effectiveness() EffectivenessReport {
	stats := c.Stats()
	report := EffectivenessReport{
		HitRatePercent:    stats.HitRate() * 100,
		PressureLevel:     stats.PressureLevel,
		ItemCount:         stats.Size,
		TotalEvictions:    stats.Evictions,
		PressureEvictions: stats.PressureEvictions,
		TTLAdaptations:    stats.TTLAdaptations,
	}

	// Effectiveness combines hit rate with an eviction-churn penalty.
	churnPenalty := 0.0
	if lookups := stats.Hits + stats.Misses; lookups > 0 {
		churnPenalty = float64(stats.Evictions) / float64(lookups)
		if churnPenalty > 1 {
			churnPenalty = 1
		}
	}
	report.EffectivenessScore = stats.HitRate() * (1 - 0.5*churnPenalty)

	if stats.HitRate() < 0.5 && stats.Hits+stats.Misses >= 100 {
		report.Recommendations = append(report.Recommendations,
			"hit rate below 50%: consider raising max_size or default_ttl")
	}
	if stats.PressureEvictions > stats.SizeEvictions && stats.PressureEvictions > 0 {
		report.Recommendations = append(report.Recommendations,
			"pressure evictions dominate: consider raising heap_size_threshold")
	}
	if stats.PressureLevel >= PressureHigh {
		report.Recommendations = append(report.Recommendations,
			"memory pressure is high: reduce min_items_to_keep or cache fewer embeddings")
	}
	return report
}
