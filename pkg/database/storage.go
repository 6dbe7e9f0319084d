// Package database implements the durable tier of the memory engine: an
// SQL-backed store holding the authoritative history of episodes, patterns,
// heuristics, relationships, summaries, and dimension-partitioned
// embeddings. All user-supplied values are bound through parameter
// placeholders; no SQL text is ever assembled from untrusted input.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Config tunes the durable tier's resilience behavior.
type Config struct {
	// MaxRetries bounds retry attempts for failed operations
	MaxRetries int
	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff delay
	RetryMaxDelay time.Duration
	// BreakerName labels the circuit breaker in logs
	BreakerName string
}

// DefaultConfig returns the standard resilience settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
		BreakerName:    "durable-tier",
	}
}

// Storage is the durable tier backed by an SQL database.
type Storage struct {
	db      *sqlx.DB
	config  Config
	logger  observability.Logger
	metrics *observability.MetricsRegistry
	breaker *gobreaker.CircuitBreaker
}

// New opens the durable tier at the given URL. The URL must satisfy the
// security grammar enforced by ParseDatabaseURL.
func New(rawURL, token string, logger observability.Logger, metrics *observability.MetricsRegistry) (*Storage, error) {
	return NewWithConfig(rawURL, token, DefaultConfig(), logger, metrics)
}

// NewWithConfig opens the durable tier with custom resilience settings.
func NewWithConfig(rawURL, token string, config Config, logger observability.Logger, metrics *observability.MetricsRegistry) (*Storage, error) {
	url, err := ParseDatabaseURL(rawURL, token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}

	logger.Info("Connecting to durable tier", map[string]interface{}{
		"driver": url.DriverName(),
	})

	db, err := sqlx.Open(url.DriverName(), url.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to open database")
	}

	if url.Scheme == SchemeMemory {
		// A shared-cache in-memory database disappears when its last
		// connection closes; a permanently idle connection keeps it
		// alive without starving concurrent users of the handle.
		db.SetMaxIdleConns(2)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.BreakerName,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Storage{
		db:      db,
		config:  config,
		logger:  logger,
		metrics: metrics,
		breaker: breaker,
	}, nil
}

// DB exposes the underlying handle for the connection pool.
func (s *Storage) DB() *sqlx.DB {
	return s.db
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// HealthCheck verifies connectivity with a lightweight probe.
func (s *Storage) HealthCheck(ctx context.Context) (bool, error) {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		s.logger.Error("Health check failed", map[string]interface{}{"error": err.Error()})
		return false, nil
	}
	return true, nil
}

// Statistics holds entity counts for the durable tier.
type Statistics struct {
	EpisodeCount   int `json:"episode_count"`
	PatternCount   int `json:"pattern_count"`
	HeuristicCount int `json:"heuristic_count"`
}

// GetStatistics reports how many entities the durable tier holds.
func (s *Storage) GetStatistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM episodes", &stats.EpisodeCount},
		{"SELECT COUNT(*) FROM patterns", &stats.PatternCount},
		{"SELECT COUNT(*) FROM heuristics", &stats.HeuristicCount},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dest, c.query); err != nil {
			return Statistics{}, errors.Wrap(err, errors.KindStorage, "failed to count entities")
		}
	}
	return stats, nil
}

// withRetry runs fn behind the circuit breaker with exponential backoff.
// Storage-kind and unclassified (KindUnknown) failures are retried;
// validation, security, and serialization errors surface immediately, as do
// context cancellations.
func (s *Storage) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.config.RetryBaseDelay),
			backoff.WithMaxInterval(s.config.RetryMaxDelay),
			backoff.WithMultiplier(2),
		),
		uint64(s.config.MaxRetries),
	), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(errors.Wrap(ctx.Err(), errors.KindCancelled, operation))
		}
		if kind := errors.KindOf(err); kind != errors.KindStorage && kind != errors.KindUnknown {
			return backoff.Permanent(err)
		}
		s.logger.Warn("Retrying storage operation", map[string]interface{}{
			"operation": operation,
			"attempt":   attempt,
			"error":     err.Error(),
		})
		return err
	}, policy)

	if err != nil && attempt > 1 {
		s.logger.Error("Storage operation failed after retries", map[string]interface{}{
			"operation": operation,
			"attempts":  attempt,
		})
	}
	return err
}

// execWithRetry executes a standalone SQL statement with retry.
func (s *Storage) execWithRetry(ctx context.Context, stmt string) error {
	return s.withRetry(ctx, "exec", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.KindStorage, "SQL execution failed")
		}
		return nil
	})
}

// inTx runs fn inside a transaction, rolling back on error. A rollback is
// also issued when the context is cancelled mid-flight so partial changes
// never commit.
func (s *Storage) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to commit transaction")
	}
	return nil
}
