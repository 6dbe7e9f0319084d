package cache

import (
	"sort"
	"time"

	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// scoredEntry pairs an index key with its hybrid eviction score.
type scoredEntry struct {
	bucket string
	key    string
	score  float64
}

// evictIfNeeded enforces MaxSize with hybrid LRU/LFU scoring. Under normal
// conditions one victim goes per over-capacity insert; under memory
// pressure the batch grows by PressureMultiplier, and critical pressure
// shrinks the cache to MinItemsToKeep outright.
func (c *Cache) evictIfNeeded() {
	c.decayIfDue()
	level := c.updatePressure()

	size := c.Size()
	var toEvict int
	switch {
	case level == PressureCritical && size > c.config.MinItemsToKeep:
		toEvict = size - c.config.MinItemsToKeep
	case size > c.config.MaxSize:
		toEvict = size - c.config.MaxSize
		if level == PressureHigh || level == PressureLow {
			toEvict *= c.config.PressureMultiplier
		}
	default:
		return
	}

	victims := c.selectVictims(toEvict)
	for _, victim := range victims {
		sh := c.shardFor(victim.bucket, victim.key)
		sh.mu.Lock()
		delete(sh.entries, victim.bucket+"/"+victim.key)
		sh.mu.Unlock()
		_ = c.dropValue(bucketFor(victim.bucket), victim.key)

		c.evictions.Add(1)
		c.metrics.IncrementCounter(observability.MetricCacheEvictions, 1)
		if level == PressureCritical || level == PressureHigh {
			c.pressureEvictions.Add(1)
			c.metrics.IncrementCounter(observability.MetricPressureEvictions, 1)
		} else {
			c.sizeEvictions.Add(1)
		}
	}
}

func bucketFor(name string) []byte {
	switch name {
	case string(bucketEpisodes):
		return bucketEpisodes
	case string(bucketPatterns):
		return bucketPatterns
	case string(bucketEmbeddings):
		return bucketEmbeddings
	default:
		return bucketQueries
	}
}

// selectVictims ranks every entry by the hybrid score
//
//	lru_weight*LRU + (1-lru_weight)*LFU
//
// where LRU is the normalized inverse of last-access age and LFU the
// normalized time-decayed access count, and returns the n lowest scorers.
func (c *Cache) selectVictims(n int) []scoredEntry {
	now := c.now()

	var maxAge float64
	var maxCount float64
	type rawEntry struct {
		bucket string
		key    string
		age    float64
		count  float64
	}
	var raw []rawEntry

	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, meta := range sh.entries {
			age := now.Sub(meta.lastAccess).Seconds()
			if age < 0 {
				age = 0
			}
			if age > maxAge {
				maxAge = age
			}
			if meta.accessCount > maxCount {
				maxCount = meta.accessCount
			}
			raw = append(raw, rawEntry{bucket: meta.bucket, key: meta.key, age: age, count: meta.accessCount})
		}
		sh.mu.RUnlock()
	}

	scored := make([]scoredEntry, len(raw))
	for i, r := range raw {
		lru := 1.0
		if maxAge > 0 {
			lru = 1.0 - r.age/maxAge
		}
		lfu := 0.0
		if maxCount > 0 {
			lfu = r.count / maxCount
		}
		scored[i] = scoredEntry{
			bucket: r.bucket,
			key:    r.key,
			score:  c.config.LRUWeight*lru + (1-c.config.LRUWeight)*lfu,
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score < scored[j].score })
	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n]
}

// decayIfDue applies time decay to access counts once per DecayInterval:
// count *= (1 - TimeDecayFactor). Decay keeps LFU from fossilizing entries
// that were popular long ago.
func (c *Cache) decayIfDue() {
	if c.config.TimeDecayFactor <= 0 || c.config.DecayInterval <= 0 {
		return
	}
	now := c.now()
	last := time.Unix(0, c.lastDecay.Load())
	if now.Sub(last) < c.config.DecayInterval {
		return
	}
	if !c.lastDecay.CompareAndSwap(last.UnixNano(), now.UnixNano()) {
		return
	}
	factor := 1 - c.config.TimeDecayFactor
	for _, sh := range c.shards {
		sh.mu.Lock()
		for _, meta := range sh.entries {
			meta.accessCount *= factor
		}
		sh.mu.Unlock()
	}
}

// updatePressure classifies heap usage against the configured thresholds
// and stores the level in an atomic gauge.
func (c *Cache) updatePressure() PressureLevel {
	usage := float64(c.heapBytes()) / float64(c.config.HeapSizeThreshold)

	var level PressureLevel
	switch {
	case usage < c.config.MemoryThreshold*0.5:
		level = PressureNormal
	case usage < c.config.MemoryThreshold:
		level = PressureLow
	case usage < c.config.MemoryThreshold*1.25:
		level = PressureHigh
	default:
		level = PressureCritical
	}

	if previous := PressureLevel(c.pressure.Swap(int32(level))); previous != level {
		c.pressureChanges.Add(1)
		c.logger.Info("Memory pressure level changed", map[string]interface{}{
			"from": previous.String(),
			"to":   level.String(),
		})
	}
	return level
}

// PressureLevel returns the current memory pressure classification.
func (c *Cache) PressureLevel() PressureLevel {
	return PressureLevel(c.pressure.Load())
}
