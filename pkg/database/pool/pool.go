// Package pool provides a bounded-concurrency connection pool over the
// durable tier, with health validation, keep-alive pings for idle
// connections, and a per-connection prepared-statement cache.
//
// The underlying database/sql handle already multiplexes connections; this
// pool adds a hard concurrency bound via semaphore, observable statistics,
// and statement reuse keyed by SQL fingerprint.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Config tunes the connection pool.
type Config struct {
	// MaxConnections bounds concurrently held connections
	MaxConnections int
	// ConnectionTimeout bounds the wait for a free slot
	ConnectionTimeout time.Duration
	// EnableHealthCheck validates connections on acquire
	EnableHealthCheck bool
	// HealthCheckTimeout bounds the validation probe
	HealthCheckTimeout time.Duration
	// KeepAliveInterval is how often idle connections are inspected;
	// zero disables the keep-alive task
	KeepAliveInterval time.Duration
	// StaleThreshold is the idle age beyond which a connection is pinged
	StaleThreshold time.Duration
	// PingTimeout bounds a proactive keep-alive ping
	PingTimeout time.Duration
	// StatementCacheSize bounds prepared statements per connection
	StatementCacheSize int
}

// DefaultConfig returns the standard pool settings.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     10,
		ConnectionTimeout:  5 * time.Second,
		EnableHealthCheck:  true,
		HealthCheckTimeout: 2 * time.Second,
		KeepAliveInterval:  30 * time.Second,
		StaleThreshold:     60 * time.Second,
		PingTimeout:        2 * time.Second,
		StatementCacheSize: 64,
	}
}

// Statistics reports observable pool state.
type Statistics struct {
	TotalCreated       uint64        `json:"total_created"`
	TotalCheckouts     uint64        `json:"total_checkouts"`
	TotalWaitTime      time.Duration `json:"total_wait_time"`
	HealthChecksPassed uint64        `json:"health_checks_passed"`
	HealthChecksFailed uint64        `json:"health_checks_failed"`
	KeepAliveEvictions uint64        `json:"keep_alive_evictions"`
	ActiveConnections  int           `json:"active_connections"`
	IdleConnections    int           `json:"idle_connections"`
}

// AverageWaitTime returns the mean checkout wait.
func (s Statistics) AverageWaitTime() time.Duration {
	if s.TotalCheckouts == 0 {
		return 0
	}
	return s.TotalWaitTime / time.Duration(s.TotalCheckouts)
}

type pooledEntry struct {
	conn     *sqlx.Conn
	lastUsed time.Time
	stmts    *statementCache
}

func (e *pooledEntry) close() {
	e.stmts.closeAll()
	_ = e.conn.Close()
}

// Pool is a bounded-concurrency connection pool.
type Pool struct {
	db      *sqlx.DB
	config  Config
	sem     *semaphore.Weighted
	logger  observability.Logger
	metrics *observability.MetricsRegistry

	mu     sync.Mutex
	free   []*pooledEntry
	stats  Statistics
	closed bool

	keepAliveStop chan struct{}
	keepAliveDone chan struct{}
}

// New creates a pool over an open database handle and validates
// connectivity once before returning.
func New(ctx context.Context, db *sqlx.DB, config Config, logger observability.Logger, metrics *observability.MetricsRegistry) (*Pool, error) {
	if config.MaxConnections <= 0 {
		return nil, errors.New(errors.KindValidation, "max connections must be positive")
	}
	if config.StatementCacheSize <= 0 {
		config.StatementCacheSize = DefaultConfig().StatementCacheSize
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "database validation failed")
	}

	p := &Pool{
		db:      db,
		config:  config,
		sem:     semaphore.NewWeighted(int64(config.MaxConnections)),
		logger:  logger,
		metrics: metrics,
	}

	if config.KeepAliveInterval > 0 {
		p.keepAliveStop = make(chan struct{})
		p.keepAliveDone = make(chan struct{})
		go p.keepAliveLoop()
	}

	logger.Info("Connection pool created", map[string]interface{}{
		"max_connections": config.MaxConnections,
	})
	return p, nil
}

// Acquire checks a connection out of the pool. It waits for a free slot up
// to ConnectionTimeout; on timeout a ResourceExhausted error is returned.
// The caller must Release the connection.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New(errors.KindCancelled, "pool is shut down")
	}
	p.mu.Unlock()

	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.metrics.IncrementCounter(observability.MetricPoolWaits, 1)
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.KindCancelled, "acquire cancelled")
		}
		return nil, errors.Newf(errors.KindResourceExhausted,
			"connection pool timeout after %s: max %d connections in use",
			p.config.ConnectionTimeout, p.config.MaxConnections)
	}
	waited := time.Since(start)

	entry, err := p.takeEntry(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	if p.config.EnableHealthCheck {
		if err := p.validateHealth(ctx, entry); err != nil {
			// A failed check disables this connection, never the pool:
			// discard it and dial a fresh one.
			p.mu.Lock()
			p.stats.HealthChecksFailed++
			p.mu.Unlock()
			entry.close()

			entry, err = p.newEntry(ctx)
			if err != nil {
				p.sem.Release(1)
				return nil, err
			}
			if err := p.validateHealth(ctx, entry); err != nil {
				entry.close()
				p.sem.Release(1)
				return nil, err
			}
		}
		p.mu.Lock()
		p.stats.HealthChecksPassed++
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.stats.TotalCheckouts++
	p.stats.TotalWaitTime += waited
	p.stats.ActiveConnections++
	active := p.stats.ActiveConnections
	p.mu.Unlock()

	p.metrics.SetGauge(observability.MetricPoolActive, int64(active))
	p.logger.Debug("Connection acquired", map[string]interface{}{
		"wait":   waited.String(),
		"active": active,
	})

	return &Conn{pool: p, entry: entry}, nil
}

// takeEntry pops an idle connection or dials a new one.
func (p *Pool) takeEntry(ctx context.Context) (*pooledEntry, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		entry := p.free[n-1]
		p.free = p.free[:n-1]
		p.stats.IdleConnections = len(p.free)
		p.mu.Unlock()
		return entry, nil
	}
	p.mu.Unlock()
	return p.newEntry(ctx)
}

func (p *Pool) newEntry(ctx context.Context) (*pooledEntry, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to create connection")
	}
	p.mu.Lock()
	p.stats.TotalCreated++
	p.mu.Unlock()
	return &pooledEntry{
		conn:     conn,
		lastUsed: time.Now(),
		stmts:    newStatementCache(p.config.StatementCacheSize, p.metrics),
	}, nil
}

func (p *Pool) validateHealth(ctx context.Context, entry *pooledEntry) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.HealthCheckTimeout)
	defer cancel()
	var one int
	if err := entry.conn.GetContext(probeCtx, &one, "SELECT 1"); err != nil {
		return errors.Wrap(err, errors.KindStorage, "connection health check failed")
	}
	return nil
}

// release returns a connection to the free list and frees its permit.
func (p *Pool) release(entry *pooledEntry) {
	entry.lastUsed = time.Now()

	p.mu.Lock()
	if p.closed {
		p.stats.ActiveConnections--
		p.mu.Unlock()
		entry.close()
		p.sem.Release(1)
		return
	}
	p.free = append(p.free, entry)
	p.stats.ActiveConnections--
	p.stats.IdleConnections = len(p.free)
	active, idle := p.stats.ActiveConnections, p.stats.IdleConnections
	p.mu.Unlock()

	p.sem.Release(1)
	p.metrics.SetGauge(observability.MetricPoolActive, int64(active))
	p.metrics.SetGauge(observability.MetricPoolIdle, int64(idle))
}

// keepAliveLoop periodically pings idle connections older than the stale
// threshold and evicts the unresponsive ones.
func (p *Pool) keepAliveLoop() {
	defer close(p.keepAliveDone)
	ticker := time.NewTicker(p.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.keepAliveStop:
			return
		case <-ticker.C:
			p.pingStaleConnections()
		}
	}
}

func (p *Pool) pingStaleConnections() {
	p.mu.Lock()
	var stale []*pooledEntry
	var fresh []*pooledEntry
	cutoff := time.Now().Add(-p.config.StaleThreshold)
	for _, entry := range p.free {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry)
		} else {
			fresh = append(fresh, entry)
		}
	}
	p.free = fresh
	p.stats.IdleConnections = len(p.free)
	p.mu.Unlock()

	for _, entry := range stale {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PingTimeout)
		var one int
		err := entry.conn.GetContext(ctx, &one, "SELECT 1")
		cancel()
		if err != nil {
			p.logger.Warn("Evicting unresponsive idle connection", map[string]interface{}{
				"idle_for": time.Since(entry.lastUsed).String(),
			})
			entry.close()
			p.mu.Lock()
			p.stats.KeepAliveEvictions++
			p.mu.Unlock()
			continue
		}
		entry.lastUsed = time.Now()
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			entry.close()
			continue
		}
		p.free = append(p.free, entry)
		p.stats.IdleConnections = len(p.free)
		p.mu.Unlock()
	}
}

// Statistics returns a copy of the pool's counters.
func (p *Pool) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Utilization returns active connections as a fraction of capacity.
func (p *Pool) Utilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.stats.ActiveConnections) / float64(p.config.MaxConnections)
}

// AvailableConnections returns the number of free slots.
func (p *Pool) AvailableConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.MaxConnections - p.stats.ActiveConnections
}

// HasCapacity reports whether an Acquire could proceed without waiting.
func (p *Pool) HasCapacity() bool {
	return p.AvailableConnections() > 0
}

// shutdownTimeout bounds how long Shutdown waits for active connections.
const shutdownTimeout = 30 * time.Second

// Shutdown refuses new acquisitions, waits up to 30 seconds for active
// connections to be returned, and closes every idle connection. Still-held
// connections are logged and left to their holders.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.keepAliveStop != nil {
		close(p.keepAliveStop)
		<-p.keepAliveDone
	}

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		active := p.stats.ActiveConnections
		p.mu.Unlock()
		if active == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.KindCancelled, "pool shutdown")
		case <-time.After(100 * time.Millisecond):
		}
	}

	p.mu.Lock()
	stillActive := p.stats.ActiveConnections
	free := p.free
	p.free = nil
	p.stats.IdleConnections = 0
	p.mu.Unlock()

	for _, entry := range free {
		entry.close()
	}

	if stillActive > 0 {
		p.logger.Warn("Pool shutdown with connections still active", map[string]interface{}{
			"active": stillActive,
		})
	} else {
		p.logger.Info("Connection pool shutdown complete", nil)
	}
	return nil
}

// Conn is a checked-out pooled connection. Release returns it to the pool;
// releasing twice is a no-op.
type Conn struct {
	pool     *Pool
	entry    *pooledEntry
	released bool
	mu       sync.Mutex
}

// Release returns the connection to the pool.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return
	}
	c.released = true
	c.pool.release(c.entry)
}

// ExecContext runs a statement through the prepared-statement cache.
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) error {
	stmt, err := c.entry.stmts.get(ctx, c.entry.conn, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, args...); err != nil {
		return errors.Wrap(err, errors.KindStorage, "exec failed")
	}
	return nil
}

// GetContext scans a single row through the prepared-statement cache.
func (c *Conn) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	stmt, err := c.entry.stmts.get(ctx, c.entry.conn, query)
	if err != nil {
		return err
	}
	if err := stmt.GetContext(ctx, dest, args...); err != nil {
		return errors.Wrap(err, errors.KindStorage, "get failed")
	}
	return nil
}

// SelectContext scans many rows through the prepared-statement cache.
func (c *Conn) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	stmt, err := c.entry.stmts.get(ctx, c.entry.conn, query)
	if err != nil {
		return err
	}
	if err := stmt.SelectContext(ctx, dest, args...); err != nil {
		return errors.Wrap(err, errors.KindStorage, "select failed")
	}
	return nil
}

// StatementCacheStats exposes the connection's statement cache counters.
func (c *Conn) StatementCacheStats() (hits, misses uint64, occupancy int) {
	return c.entry.stmts.stats()
}
