// Package querycache caches query result sets keyed by fingerprint.
// Invalidation by domain is lazy: affected entries are tombstoned in O(1)
// and reclaimed only when LRU eviction reaches them, which keeps
// invalidation cheap when many domains churn.
package querycache

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Key identifies a cached query. Equality of the normalized fields defines
// fingerprint identity.
type Key struct {
	QueryText string
	Domain    string
	Tags      []string
	Limit     int
}

// Fingerprint hashes the normalized key. Tag order does not matter; query
// text is case- and whitespace-insensitive.
func (k Key) Fingerprint() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(normalizeQuery(k.QueryText))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(k.Domain)
	_, _ = h.WriteString("\x00")
	tags := make([]string, len(k.Tags))
	copy(tags, k.Tags)
	sortStrings(tags)
	for _, tag := range tags {
		_, _ = h.WriteString(tag)
		_, _ = h.WriteString("\x01")
	}
	_, _ = h.WriteString("\x00")
	var limitBuf [8]byte
	for i := 0; i < 8; i++ {
		limitBuf[i] = byte(k.Limit >> (8 * i))
	}
	_, _ = h.Write(limitBuf[:])
	return h.Sum64()
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// entry is one cached result set with its domain tags for invalidation.
type entry struct {
	episodes   []*models.Episode
	patterns   []*models.Pattern
	domains    map[string]struct{}
	insertedAt time.Time
	ttl        time.Duration
	tombstoned bool
}

// DefaultTTL is the per-entry lifetime unless overridden.
const DefaultTTL = 300 * time.Second

// Config tunes the query cache.
type Config struct {
	// MaxEntries bounds the physical entry count
	MaxEntries int
	// TTL is the per-entry lifetime
	TTL time.Duration
}

// DefaultConfig returns the standard query cache settings.
func DefaultConfig() Config {
	return Config{MaxEntries: 1000, TTL: DefaultTTL}
}

// Cache is a fingerprint-keyed result cache with lazy domain invalidation.
// A single mutex guards it; critical sections are small.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[uint64, *entry]
	config  Config
	metrics *observability.MetricsRegistry
	now     func() time.Time

	tombstones    int
	hits          uint64
	misses        uint64
	invalidations uint64
}

// New creates a query cache.
func New(config Config, metrics *observability.MetricsRegistry) (*Cache, error) {
	if config.MaxEntries <= 0 {
		return nil, errors.New(errors.KindValidation, "max entries must be positive")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	c := &Cache{config: config, metrics: metrics, now: time.Now}
	inner, err := lru.NewWithEvict[uint64, *entry](config.MaxEntries, func(_ uint64, e *entry) {
		if e.tombstoned {
			c.tombstones--
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to create lru")
	}
	c.lru = inner
	return c, nil
}

// episodeDomains derives the entry's domain set from its items plus the
// key's own domain.
func episodeDomains(key Key, episodes []*models.Episode, patterns []*models.Pattern) map[string]struct{} {
	domains := make(map[string]struct{})
	if key.Domain != "" {
		domains[key.Domain] = struct{}{}
	}
	for _, e := range episodes {
		if e.Context.Domain != "" {
			domains[e.Context.Domain] = struct{}{}
		}
	}
	for _, p := range patterns {
		if d := p.Domain(); d != "" {
			domains[d] = struct{}{}
		}
	}
	return domains
}

// PutEpisodes caches an episode result set under the key's fingerprint.
func (c *Cache) PutEpisodes(key Key, episodes []*models.Episode) {
	copied := make([]*models.Episode, len(episodes))
	copy(copied, episodes)
	c.putEntry(key, &entry{
		episodes: copied,
		domains:  episodeDomains(key, episodes, nil),
	})
}

// PutPatterns caches a pattern result set under the key's fingerprint.
func (c *Cache) PutPatterns(key Key, patterns []*models.Pattern) {
	copied := make([]*models.Pattern, len(patterns))
	copy(copied, patterns)
	c.putEntry(key, &entry{
		patterns: copied,
		domains:  episodeDomains(key, nil, patterns),
	})
}

func (c *Cache) putEntry(key Key, e *entry) {
	e.insertedAt = c.now()
	e.ttl = c.config.TTL

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(key.Fingerprint()); ok && old.tombstoned {
		c.tombstones--
	}
	c.lru.Add(key.Fingerprint(), e)
}

// GetEpisodes returns a cached episode result set. Tombstoned and expired
// entries are misses.
func (c *Cache) GetEpisodes(key Key) ([]*models.Episode, bool) {
	e, ok := c.lookup(key)
	if !ok || e.episodes == nil {
		return nil, false
	}
	out := make([]*models.Episode, len(e.episodes))
	copy(out, e.episodes)
	return out, true
}

// GetPatterns returns a cached pattern result set.
func (c *Cache) GetPatterns(key Key) ([]*models.Pattern, bool) {
	e, ok := c.lookup(key)
	if !ok || e.patterns == nil {
		return nil, false
	}
	out := make([]*models.Pattern, len(e.patterns))
	copy(out, e.patterns)
	return out, true
}

func (c *Cache) lookup(key Key) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key.Fingerprint())
	if !ok {
		c.miss()
		return nil, false
	}
	if e.tombstoned {
		// Tombstones stay physically present until LRU eviction.
		c.miss()
		return nil, false
	}
	if c.now().After(e.insertedAt.Add(e.ttl)) {
		c.lru.Remove(key.Fingerprint())
		c.miss()
		return nil, false
	}
	c.hits++
	c.metrics.IncrementCounter(observability.MetricQueryCacheHits, 1)
	return e, true
}

func (c *Cache) miss() {
	c.misses++
	c.metrics.IncrementCounter(observability.MetricQueryCacheMisses, 1)
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.tombstones = 0
	c.invalidations++
	c.metrics.IncrementCounter(observability.MetricQueryInvalidations, 1)
}

// InvalidateDomain tombstones every entry tagged with the domain. The
// entries stay in place; Get treats them as misses and LRU eviction
// reclaims them later.
func (c *Cache) InvalidateDomain(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, fp := range c.lru.Keys() {
		e, ok := c.lru.Peek(fp)
		if !ok || e.tombstoned {
			continue
		}
		if _, tagged := e.domains[domain]; tagged {
			e.tombstoned = true
			c.tombstones++
		}
	}
	c.invalidations++
	c.metrics.IncrementCounter(observability.MetricQueryInvalidations, 1)
}

// Size returns the physical entry count, tombstones included.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// EffectiveSize returns the live entry count, tombstones excluded.
func (c *Cache) EffectiveSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len() - c.tombstones
}

// Stats reports the cache's counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Size          int    `json:"size"`
	EffectiveSize int    `json:"effective_size"`
}

// HitRate returns hits / (hits + misses), 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Invalidations: c.invalidations,
		Size:          c.lru.Len(),
		EffectiveSize: c.lru.Len() - c.tombstones,
	}
}
