package pool

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// statementCache is a per-connection LRU of SQL fingerprint to prepared
// statement. Evicted statements are closed so the connection never leaks
// handles.
type statementCache struct {
	mu      sync.Mutex
	cache   *lru.Cache[uint64, *sqlx.Stmt]
	metrics *observability.MetricsRegistry
	hits    uint64
	misses  uint64
}

func newStatementCache(size int, metrics *observability.MetricsRegistry) *statementCache {
	sc := &statementCache{metrics: metrics}
	// The eviction callback releases the prepared handle when its SQL
	// text falls out of the LRU.
	cache, _ := lru.NewWithEvict[uint64, *sqlx.Stmt](size, func(_ uint64, stmt *sqlx.Stmt) {
		_ = stmt.Close()
	})
	sc.cache = cache
	return sc
}

// fingerprint hashes SQL text into the cache key.
func fingerprint(query string) uint64 {
	return xxhash.Sum64String(query)
}

// get returns a prepared statement for the query, preparing it on the
// connection on first use.
func (sc *statementCache) get(ctx context.Context, conn *sqlx.Conn, query string) (*sqlx.Stmt, error) {
	key := fingerprint(query)

	sc.mu.Lock()
	if stmt, ok := sc.cache.Get(key); ok {
		sc.hits++
		sc.mu.Unlock()
		sc.metrics.IncrementCounter(observability.MetricStmtCacheHits, 1)
		return stmt, nil
	}
	sc.misses++
	sc.mu.Unlock()
	sc.metrics.IncrementCounter(observability.MetricStmtCacheMisses, 1)

	stmt, err := conn.PreparexContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to prepare statement")
	}

	sc.mu.Lock()
	sc.cache.Add(key, stmt)
	sc.mu.Unlock()
	return stmt, nil
}

func (sc *statementCache) stats() (hits, misses uint64, occupancy int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.hits, sc.misses, sc.cache.Len()
}

func (sc *statementCache) closeAll() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cache.Purge()
}
