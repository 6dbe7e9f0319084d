package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EnableBackgroundCleanup = false
	cfg.MaxSize = 100
	cfg.DefaultTTL = 10 * time.Minute
	cfg.MinTTL = time.Minute
	cfg.MaxTTL = time.Hour
	cfg.HotThreshold = 3
	cfg.ColdThreshold = 1
	cfg.AdaptationRate = 0.2
	cfg.DecayInterval = 0 // no decay unless a test opts in
	return cfg
}

func openTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.redb")
	c, err := Open(path, cfg, observability.NewNoopLogger(), observability.NewMetricsRegistry())
	require.NoError(t, err)
	// Pin the heap gauge so ambient test-binary memory use never triggers
	// pressure-driven eviction; pressure tests override this.
	c.heapBytes = func() uint64 { return 0 }
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// fakeClock drives the cache's injected time source.
type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time            { return f.now }
func (f *fakeClock) Advance(d time.Duration)   { f.now = f.now.Add(d) }

func withClock(c *Cache) *fakeClock {
	clock := &fakeClock{now: time.Now().UTC()}
	c.now = clock.Now
	return clock
}

func cachedEpisode() *models.Episode {
	e := models.NewEpisode("cache me", models.TaskContext{Domain: "web-api"}, models.TaskTypeTesting)
	e.SetTags([]string{"hot"})
	return e
}

func TestEpisodeRoundTrip(t *testing.T) {
	c := openTestCache(t, testConfig())
	e := cachedEpisode()

	require.NoError(t, c.PutEpisode(e))

	got, ok, err := c.GetEpisode(e.EpisodeID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.EpisodeID, got.EpisodeID)
	assert.Equal(t, e.TaskDescription, got.TaskDescription)
	assert.Equal(t, e.Tags, got.Tags)
}

func TestMissReturnsFalseNotError(t *testing.T) {
	c := openTestCache(t, testConfig())
	got, ok, err := c.GetEpisode(uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestDeleteEpisode(t *testing.T) {
	c := openTestCache(t, testConfig())
	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))
	require.NoError(t, c.DeleteEpisode(e.EpisodeID))

	_, ok, err := c.GetEpisode(e.EpisodeID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestPatternRoundTrip(t *testing.T) {
	c := openTestCache(t, testConfig())
	p := models.NewToolSequencePattern(models.ToolSequencePayload{
		Tools: []string{"editor"}, Context: models.TaskContext{Domain: "d"}, SuccessRate: 0.7,
	})
	require.NoError(t, c.PutPattern(p))

	got, ok, err := c.GetPattern(p.PatternID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.PatternID, got.PatternID)
	assert.Equal(t, 0.7, got.SuccessRate())
}

func TestListPatterns(t *testing.T) {
	cfg := testConfig()
	c := openTestCache(t, cfg)
	clock := withClock(c)

	assert.Empty(t, mustListPatterns(t, c))

	p1 := models.NewToolSequencePattern(models.ToolSequencePayload{
		Tools: []string{"a"}, Context: models.TaskContext{Domain: "d"}, SuccessRate: 0.6,
	})
	p2 := models.NewToolSequencePattern(models.ToolSequencePayload{
		Tools: []string{"b"}, Context: models.TaskContext{Domain: "d"}, SuccessRate: 0.9,
	})
	require.NoError(t, c.PutPattern(p1))
	require.NoError(t, c.PutPattern(p2))
	// Episodes in other buckets do not leak into the pattern listing.
	require.NoError(t, c.PutEpisode(cachedEpisode()))

	listed := mustListPatterns(t, c)
	require.Len(t, listed, 2)
	ids := map[string]bool{}
	for _, p := range listed {
		ids[p.PatternID.String()] = true
	}
	assert.True(t, ids[p1.PatternID.String()])
	assert.True(t, ids[p2.PatternID.String()])

	// Expired patterns drop out of the listing.
	clock.Advance(cfg.DefaultTTL + time.Second)
	assert.Empty(t, mustListPatterns(t, c))
}

func mustListPatterns(t *testing.T, c *Cache) []*models.Pattern {
	t.Helper()
	patterns, err := c.ListPatterns()
	require.NoError(t, err)
	return patterns
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c := openTestCache(t, testConfig())
	id := uuid.New()
	vec := []float32{0.25, -1, 0.5}
	require.NoError(t, c.PutEmbedding(models.OwnerEpisode, id, vec))

	got, ok, err := c.GetEmbedding(models.OwnerEpisode, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)

	// Owner kinds are separate keyspaces.
	_, ok, err = c.GetEmbedding(models.OwnerPattern, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Adaptive TTL monotonicity (property 9): hot accesses never shrink the
// TTL, cold accesses never grow it, and it always stays within bounds.
func TestAdaptiveTTLHotGrows(t *testing.T) {
	cfg := testConfig()
	c := openTestCache(t, cfg)
	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))

	key := e.EpisodeID.String()
	previous, ok := c.EntryTTL(string(bucketEpisodes), key)
	require.True(t, ok)
	require.Equal(t, cfg.DefaultTTL, previous)

	for i := 0; i < 20; i++ {
		_, hit, err := c.GetEpisode(e.EpisodeID)
		require.NoError(t, err)
		require.True(t, hit)

		ttl, ok := c.EntryTTL(string(bucketEpisodes), key)
		require.True(t, ok)
		if i+1 >= cfg.HotThreshold {
			assert.GreaterOrEqual(t, ttl, previous, "hot entry TTL must never shrink")
		}
		assert.GreaterOrEqual(t, ttl, cfg.MinTTL)
		assert.LessOrEqual(t, ttl, cfg.MaxTTL)
		previous = ttl
	}
	assert.Equal(t, cfg.MaxTTL, previous, "repeated hot hits converge on max_ttl")
}

func TestAdaptiveTTLColdShrinks(t *testing.T) {
	cfg := testConfig()
	cfg.ColdThreshold = 100 // every access counts as cold
	cfg.HotThreshold = 1000
	c := openTestCache(t, cfg)
	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))

	key := e.EpisodeID.String()
	previous := cfg.DefaultTTL
	for i := 0; i < 30; i++ {
		_, hit, err := c.GetEpisode(e.EpisodeID)
		require.NoError(t, err)
		require.True(t, hit)

		ttl, ok := c.EntryTTL(string(bucketEpisodes), key)
		require.True(t, ok)
		assert.LessOrEqual(t, ttl, previous, "cold entry TTL must never grow")
		assert.GreaterOrEqual(t, ttl, cfg.MinTTL)
		previous = ttl
	}
	assert.Equal(t, cfg.MinTTL, previous, "repeated cold hits converge on min_ttl")
}

func TestExpiredEntryIsMiss(t *testing.T) {
	cfg := testConfig()
	c := openTestCache(t, cfg)
	clock := withClock(c)

	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))

	clock.Advance(cfg.DefaultTTL + time.Second)

	_, ok, err := c.GetEpisode(e.EpisodeID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().TTLEvictions)
	assert.Zero(t, c.Size())
}

func TestSweepExpired(t *testing.T) {
	cfg := testConfig()
	c := openTestCache(t, cfg)
	clock := withClock(c)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.PutEpisode(cachedEpisode()))
	}
	clock.Advance(cfg.DefaultTTL / 2)
	fresh := cachedEpisode()
	require.NoError(t, c.PutEpisode(fresh))

	clock.Advance(cfg.DefaultTTL/2 + time.Second)

	removed := c.SweepExpired()
	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, c.Size())

	_, ok, err := c.GetEpisode(fresh.EpisodeID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSizeEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 10
	c := openTestCache(t, cfg)

	for i := 0; i < 25; i++ {
		require.NoError(t, c.PutEpisode(cachedEpisode()))
	}
	assert.LessOrEqual(t, c.Size(), cfg.MaxSize+1)
	assert.Positive(t, c.Stats().Evictions)
}

func TestHybridEvictionPrefersColdEntries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.LRUWeight = 0.5
	c := openTestCache(t, cfg)
	clock := withClock(c)

	hot := cachedEpisode()
	require.NoError(t, c.PutEpisode(hot))
	for i := 0; i < 10; i++ {
		_, _, _ = c.GetEpisode(hot.EpisodeID)
	}

	cold1, cold2 := cachedEpisode(), cachedEpisode()
	require.NoError(t, c.PutEpisode(cold1))
	require.NoError(t, c.PutEpisode(cold2))
	clock.Advance(time.Minute)

	// A fourth insert pushes the cache over MaxSize; a cold entry goes,
	// the hot one stays.
	require.NoError(t, c.PutEpisode(cachedEpisode()))

	_, ok, err := c.GetEpisode(hot.EpisodeID)
	require.NoError(t, err)
	assert.True(t, ok, "frequently accessed entry must survive eviction")
}

func TestCriticalPressureShrinksToMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1000
	cfg.MinItemsToKeep = 5
	cfg.HeapSizeThreshold = 1000
	c := openTestCache(t, cfg)
	c.heapBytes = func() uint64 { return 10000 } // well past the threshold

	for i := 0; i < 20; i++ {
		require.NoError(t, c.PutEpisode(cachedEpisode()))
	}
	assert.LessOrEqual(t, c.Size(), cfg.MinItemsToKeep+1)
	assert.Equal(t, PressureCritical, c.PressureLevel())
	assert.Positive(t, c.Stats().PressureEvictions)
}

func TestPressureLevelsFromHeap(t *testing.T) {
	cfg := testConfig()
	cfg.HeapSizeThreshold = 1000
	cfg.MemoryThreshold = 0.8
	c := openTestCache(t, cfg)

	cases := []struct {
		heap uint64
		want PressureLevel
	}{
		{100, PressureNormal},   // 0.1 < 0.4
		{500, PressureLow},      // 0.5 in [0.4, 0.8)
		{900, PressureHigh},     // 0.9 in [0.8, 1.0)
		{1500, PressureCritical},
	}
	for _, tc := range cases {
		c.heapBytes = func() uint64 { return tc.heap }
		level := c.updatePressure()
		assert.Equal(t, tc.want, level, "heap=%d", tc.heap)
		assert.Equal(t, tc.want, c.PressureLevel())
	}
	assert.Positive(t, c.Stats().PressureChanges)
}

func TestAccessCountDecay(t *testing.T) {
	cfg := testConfig()
	cfg.DecayInterval = time.Minute
	cfg.TimeDecayFactor = 0.5
	c := openTestCache(t, cfg)
	clock := withClock(c)
	c.lastDecay.Store(clock.now.UnixNano())

	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))
	for i := 0; i < 8; i++ {
		_, _, _ = c.GetEpisode(e.EpisodeID)
	}

	sh := c.shardFor(string(bucketEpisodes), e.EpisodeID.String())
	sh.mu.RLock()
	before := sh.entries[string(bucketEpisodes)+"/"+e.EpisodeID.String()].accessCount
	sh.mu.RUnlock()
	require.Equal(t, 8.0, before)

	clock.Advance(2 * time.Minute)
	c.decayIfDue()

	sh.mu.RLock()
	after := sh.entries[string(bucketEpisodes)+"/"+e.EpisodeID.String()].accessCount
	sh.mu.RUnlock()
	assert.InDelta(t, 4.0, after, 1e-9)
}

func TestStatsAndHitRate(t *testing.T) {
	c := openTestCache(t, testConfig())
	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))

	_, _, _ = c.GetEpisode(e.EpisodeID)
	_, _, _ = c.GetEpisode(uuid.New())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)

	assert.Zero(t, Stats{}.HitRate())
}

func TestEffectivenessReport(t *testing.T) {
	c := openTestCache(t, testConfig())
	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))
	for i := 0; i < 10; i++ {
		_, _, _ = c.GetEpisode(e.EpisodeID)
	}

	report := c.Effectiveness()
	assert.Greater(t, report.HitRatePercent, 99.0)
	assert.Greater(t, report.EffectivenessScore, 0.9)
	assert.Equal(t, 1, report.ItemCount)
	assert.Empty(t, report.Recommendations)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.redb")

	bad := testConfig()
	bad.ShardCount = 0
	_, err := Open(path, bad, nil, nil)
	assert.Error(t, err)

	bad = testConfig()
	bad.AdaptationRate = 1.5
	_, err = Open(path, bad, nil, nil)
	assert.Error(t, err)

	bad = testConfig()
	bad.MinTTL = 2 * time.Hour
	bad.MaxTTL = time.Hour
	_, err = Open(path, bad, nil, nil)
	assert.Error(t, err)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.redb")
	cfg := testConfig()

	c, err := Open(path, cfg, nil, nil)
	require.NoError(t, err)
	e := cachedEpisode()
	require.NoError(t, c.PutEpisode(e))
	require.NoError(t, c.Close())

	// The value survives on disk; the in-memory index does not, so the
	// reopened cache treats it as a miss until re-warmed. The file itself
	// must reopen cleanly.
	c2, err := Open(path, cfg, nil, nil)
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()
	_, ok, err := c2.GetEpisode(e.EpisodeID)
	require.NoError(t, err)
	assert.False(t, ok)
}
