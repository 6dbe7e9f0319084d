package cache

import (
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/developer-mesh/memory-engine/pkg/compression"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Bucket names of the on-disk KV layout.
var (
	bucketEpisodes   = []byte("episodes")
	bucketPatterns   = []byte("patterns")
	bucketEmbeddings = []byte("embeddings")
	bucketQueries    = []byte("query_results")
)

// entryMeta is the in-memory bookkeeping for one cached value. The value
// bytes live in bbolt; only metadata is held on the heap.
type entryMeta struct {
	bucket      string
	key         string
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount float64
	ttl         time.Duration
}

func (m *entryMeta) expired(now time.Time) bool {
	return now.After(m.insertedAt.Add(m.ttl))
}

// shard is one slice of the index with its own lock, so writers on
// different shards never contend.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*entryMeta
}

// Cache is the hot tier: a bbolt-backed KV cache with adaptive TTLs.
type Cache struct {
	db      *bolt.DB
	config  Config
	logger  observability.Logger
	metrics *observability.MetricsRegistry
	shards  []*shard

	// now and heapBytes are injectable for tests
	now       func() time.Time
	heapBytes func() uint64

	pressure  atomic.Int32
	lastDecay atomic.Int64

	hits               atomic.Uint64
	misses             atomic.Uint64
	evictions          atomic.Uint64
	sizeEvictions      atomic.Uint64
	ttlEvictions       atomic.Uint64
	pressureEvictions  atomic.Uint64
	ttlAdaptations     atomic.Uint64
	pressureChanges    atomic.Uint64
	sweepStop          chan struct{}
	sweepDone          chan struct{}
	closeOnce          sync.Once
}

// Open creates or opens the cache file at path.
func Open(path string, config Config, logger observability.Logger, metrics *observability.MetricsRegistry) (*Cache, error) {
	if config.ShardCount <= 0 {
		return nil, errors.New(errors.KindValidation, "shard count must be positive")
	}
	if config.AdaptationRate < 0 || config.AdaptationRate > 1 {
		return nil, errors.New(errors.KindValidation, "adaptation rate must be in [0, 1]")
	}
	if config.MinTTL <= 0 || config.MaxTTL < config.MinTTL {
		return nil, errors.New(errors.KindValidation, "ttl bounds must satisfy 0 < min <= max")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to open cache file")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEpisodes, bucketPatterns, bucketEmbeddings, bucketQueries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.KindStorage, "failed to create cache buckets")
	}

	shards := make([]*shard, config.ShardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[string]*entryMeta)}
	}

	c := &Cache{
		db:      db,
		config:  config,
		logger:  logger,
		metrics: metrics,
		shards:  shards,
		now:     time.Now,
		heapBytes: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
	c.lastDecay.Store(time.Now().UnixNano())

	if config.EnableBackgroundCleanup && config.CleanupInterval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop()
	}
	return c, nil
}

// Close stops background work and closes the cache file.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.sweepStop != nil {
			close(c.sweepStop)
			<-c.sweepDone
		}
		err = c.db.Close()
	})
	return err
}

func (c *Cache) shardFor(bucket, key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(bucket))
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// put frames, compresses, and stores a value, then indexes it.
func (c *Cache) put(bucket []byte, key string, kind models.PayloadKind, value []byte) error {
	payload, err := compression.Compress(value, compression.DefaultThreshold)
	if err != nil {
		return err
	}
	if saved := payload.BytesSaved(); saved > 0 {
		c.metrics.IncrementCounter(observability.MetricCompressionSaved, uint64(saved))
	}
	framed := models.Frame(kind, byte(payload.Algorithm), payload.OriginalSize, payload.Data)

	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), framed)
	}); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to write cache value")
	}

	now := c.now()
	sh := c.shardFor(string(bucket), key)
	sh.mu.Lock()
	sh.entries[string(bucket)+"/"+key] = &entryMeta{
		bucket:     string(bucket),
		key:        key,
		insertedAt: now,
		lastAccess: now,
		ttl:        c.config.DefaultTTL,
	}
	sh.mu.Unlock()

	c.evictIfNeeded()
	return nil
}

// get reads a value and, on hit, adapts the entry's TTL per its access
// pattern. Misses and expired entries return (nil, false, nil).
func (c *Cache) get(bucket []byte, key string, wantKind models.PayloadKind) ([]byte, bool, error) {
	sh := c.shardFor(string(bucket), key)
	indexKey := string(bucket) + "/" + key
	now := c.now()

	sh.mu.Lock()
	meta, ok := sh.entries[indexKey]
	if !ok {
		sh.mu.Unlock()
		c.misses.Add(1)
		c.metrics.IncrementCounter(observability.MetricCacheMisses, 1)
		return nil, false, nil
	}
	if meta.expired(now) {
		delete(sh.entries, indexKey)
		sh.mu.Unlock()
		c.dropValue(bucket, key)
		c.ttlEvictions.Add(1)
		c.metrics.IncrementCounter(observability.MetricCacheExpirations, 1)
		c.misses.Add(1)
		c.metrics.IncrementCounter(observability.MetricCacheMisses, 1)
		return nil, false, nil
	}
	meta.accessCount++
	meta.lastAccess = now
	c.adaptTTL(meta)
	sh.mu.Unlock()

	var framed []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v != nil {
			framed = make([]byte, len(v))
			copy(framed, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, errors.KindStorage, "failed to read cache value")
	}
	if framed == nil {
		// Index and store drifted; treat as a miss and heal the index.
		sh.mu.Lock()
		delete(sh.entries, indexKey)
		sh.mu.Unlock()
		c.misses.Add(1)
		c.metrics.IncrementCounter(observability.MetricCacheMisses, 1)
		return nil, false, nil
	}

	kind, tag, originalSize, body, err := models.Unframe(framed)
	if err != nil {
		return nil, false, err
	}
	if kind != wantKind {
		return nil, false, errors.Newf(errors.KindSerialization,
			"cache entry kind mismatch: want %d, have %d", wantKind, kind)
	}
	value, err := compression.DecompressRaw(body, compression.Algorithm(tag), originalSize)
	if err != nil {
		return nil, false, err
	}

	c.hits.Add(1)
	c.metrics.IncrementCounter(observability.MetricCacheHits, 1)
	return value, true, nil
}

// adaptTTL applies the adaptive TTL rule under the shard lock:
// hot entries grow their TTL, cold entries shrink it, both clamped to
// [MinTTL, MaxTTL].
func (c *Cache) adaptTTL(meta *entryMeta) {
	var next time.Duration
	switch {
	case int(meta.accessCount) >= c.config.HotThreshold:
		next = time.Duration(float64(meta.ttl) * (1 + c.config.AdaptationRate))
	case int(meta.accessCount) <= c.config.ColdThreshold:
		next = time.Duration(float64(meta.ttl) * (1 - c.config.AdaptationRate))
	default:
		return
	}
	if next < c.config.MinTTL {
		next = c.config.MinTTL
	}
	if next > c.config.MaxTTL {
		next = c.config.MaxTTL
	}
	if next != meta.ttl {
		meta.ttl = next
		c.ttlAdaptations.Add(1)
		c.metrics.IncrementCounter(observability.MetricTTLAdaptations, 1)
	}
}

// delete removes a value and its index entry.
func (c *Cache) delete(bucket []byte, key string) error {
	sh := c.shardFor(string(bucket), key)
	sh.mu.Lock()
	delete(sh.entries, string(bucket)+"/"+key)
	sh.mu.Unlock()
	return c.dropValue(bucket, key)
}

func (c *Cache) dropValue(bucket []byte, key string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to delete cache value")
	}
	return nil
}

// Size returns the number of indexed entries.
func (c *Cache) Size() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// EntryTTL reports the current TTL of an entry, false when absent. Intended
// for tests and diagnostics.
func (c *Cache) EntryTTL(bucket, key string) (time.Duration, bool) {
	sh := c.shardFor(bucket, key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	meta, ok := sh.entries[bucket+"/"+key]
	if !ok {
		return 0, false
	}
	return meta.ttl, true
}

// PutEpisode caches an episode.
func (c *Cache) PutEpisode(e *models.Episode) error {
	data, err := models.MarshalEntity(e)
	if err != nil {
		return err
	}
	return c.put(bucketEpisodes, e.EpisodeID.String(), models.PayloadEpisode, data)
}

// GetEpisode fetches a cached episode; the second return is false on miss.
func (c *Cache) GetEpisode(id uuid.UUID) (*models.Episode, bool, error) {
	data, ok, err := c.get(bucketEpisodes, id.String(), models.PayloadEpisode)
	if err != nil || !ok {
		return nil, false, err
	}
	var e models.Episode
	if err := models.UnmarshalEntity(data, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

// DeleteEpisode evicts an episode from the cache.
func (c *Cache) DeleteEpisode(id uuid.UUID) error {
	return c.delete(bucketEpisodes, id.String())
}

// PutPattern caches a pattern.
func (c *Cache) PutPattern(p *models.Pattern) error {
	data, err := models.MarshalEntity(p)
	if err != nil {
		return err
	}
	return c.put(bucketPatterns, p.PatternID.String(), models.PayloadPattern, data)
}

// GetPattern fetches a cached pattern; the second return is false on miss.
func (c *Cache) GetPattern(id uuid.UUID) (*models.Pattern, bool, error) {
	data, ok, err := c.get(bucketPatterns, id.String(), models.PayloadPattern)
	if err != nil || !ok {
		return nil, false, err
	}
	var p models.Pattern
	if err := models.UnmarshalEntity(data, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// DeletePattern evicts a pattern from the cache.
func (c *Cache) DeletePattern(id uuid.UUID) error {
	return c.delete(bucketPatterns, id.String())
}

// ListPatterns returns every unexpired cached pattern. In cache-recovery
// mode this is the authoritative pattern listing.
func (c *Cache) ListPatterns() ([]*models.Pattern, error) {
	now := c.now()
	var ids []uuid.UUID
	for _, sh := range c.shards {
		sh.mu.RLock()
		for _, meta := range sh.entries {
			if meta.bucket != string(bucketPatterns) || meta.expired(now) {
				continue
			}
			if id, err := uuid.Parse(meta.key); err == nil {
				ids = append(ids, id)
			}
		}
		sh.mu.RUnlock()
	}

	patterns := make([]*models.Pattern, 0, len(ids))
	for _, id := range ids {
		p, ok, err := c.GetPattern(id)
		if err != nil {
			return nil, err
		}
		if ok {
			patterns = append(patterns, p)
		}
	}
	return patterns, nil
}

// PutEmbedding caches a packed embedding for an owner.
func (c *Cache) PutEmbedding(kind models.OwnerKind, ownerID uuid.UUID, vec []float32) error {
	return c.put(bucketEmbeddings, string(kind)+"_"+ownerID.String(),
		models.PayloadEmbedding, models.PackEmbedding(vec))
}

// GetEmbedding fetches a cached embedding; the second return is false on miss.
func (c *Cache) GetEmbedding(kind models.OwnerKind, ownerID uuid.UUID) ([]float32, bool, error) {
	data, ok, err := c.get(bucketEmbeddings, string(kind)+"_"+ownerID.String(), models.PayloadEmbedding)
	if err != nil || !ok {
		return nil, false, err
	}
	vec, err := models.UnpackEmbedding(data)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}
