package cache

import (
	"time"

	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// sweepLoop periodically drops expired entries. Disabled in tests via
// EnableBackgroundCleanup.
func (c *Cache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweepStop:
			return
		case <-ticker.C:
			c.SweepExpired()
		}
	}
}

// SweepExpired removes every entry whose TTL has elapsed and records the
// expirations. Safe to call manually when the background sweep is off.
func (c *Cache) SweepExpired() int {
	now := c.now()
	removed := 0

	for _, sh := range c.shards {
		var expired []*entryMeta
		sh.mu.Lock()
		for indexKey, meta := range sh.entries {
			if meta.expired(now) {
				delete(sh.entries, indexKey)
				expired = append(expired, meta)
			}
		}
		sh.mu.Unlock()

		for _, meta := range expired {
			_ = c.dropValue(bucketFor(meta.bucket), meta.key)
			removed++
			c.ttlEvictions.Add(1)
			c.metrics.IncrementCounter(observability.MetricCacheExpirations, 1)
		}
	}

	if removed > 0 {
		c.logger.Debug("Expired cache entries swept", map[string]interface{}{
			"removed": removed,
		})
	}
	c.decayIfDue()
	return removed
}
