// Package syncer reconciles the durable and cache tiers. The durable tier
// is the eventual authority; the cache may lag but never contradicts a
// later durable write. Sync cycles are idempotent.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/cache"
	"github.com/developer-mesh/memory-engine/pkg/database"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// ConflictPolicy selects which tier wins when values diverge.
type ConflictPolicy int

const (
	// TursoWins takes the durable tier's value (the default)
	TursoWins ConflictPolicy = iota
	// RedbWins takes the cache tier's value, used in cache-recovery mode
	RedbWins
	// MostRecent takes the value with the later effective timestamp
	// (end_time when present, else start_time)
	MostRecent
)

// String returns the policy name.
func (p ConflictPolicy) String() string {
	switch p {
	case RedbWins:
		return "redb_wins"
	case MostRecent:
		return "most_recent"
	default:
		return "turso_wins"
	}
}

// ParsePolicy maps a config string to a policy, defaulting to TursoWins.
func ParsePolicy(s string) ConflictPolicy {
	switch s {
	case "redb_wins":
		return RedbWins
	case "most_recent":
		return MostRecent
	default:
		return TursoWins
	}
}

// Resolve applies the conflict policy to two divergent episode versions.
func Resolve(fromTurso, fromRedb *models.Episode, policy ConflictPolicy) *models.Episode {
	switch policy {
	case RedbWins:
		return fromRedb
	case MostRecent:
		if fromRedb.EffectiveTimestamp().After(fromTurso.EffectiveTimestamp()) {
			return fromRedb
		}
		return fromTurso
	default:
		return fromTurso
	}
}

// Config tunes the synchronizer.
type Config struct {
	// Interval is the period of the background cycle
	Interval time.Duration
	// Policy resolves divergent values
	Policy ConflictPolicy
}

// Status is observable synchronizer state.
type Status struct {
	LastSync  time.Time `json:"last_sync"`
	SyncCount uint64    `json:"sync_count"`
	LastError string    `json:"last_error,omitempty"`
}

// Syncer propagates durable-tier writes into the cache tier.
type Syncer struct {
	storage *database.Storage
	cache   *cache.Cache
	config  Config
	logger  observability.Logger
	metrics *observability.MetricsRegistry

	mu     sync.Mutex
	status Status

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a synchronizer. Start launches the periodic cycle.
func New(storage *database.Storage, hot *cache.Cache, config Config, logger observability.Logger, metrics *observability.MetricsRegistry) *Syncer {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	return &Syncer{
		storage: storage,
		cache:   hot,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// SyncEpisodeToCache copies one episode from the durable tier into the
// cache, applying the conflict policy when the cache already holds a
// divergent version.
func (s *Syncer) SyncEpisodeToCache(ctx context.Context, id uuid.UUID) error {
	durable, err := s.storage.GetEpisode(ctx, id)
	if err != nil {
		return err
	}

	cached, ok, err := s.cache.GetEpisode(id)
	if err != nil {
		// A corrupt cache entry is replaced, not fatal.
		s.logger.Warn("Cache read failed during sync, overwriting", map[string]interface{}{
			"episode_id": id.String(),
			"error":      err.Error(),
		})
	}
	winner := durable
	if ok && cached != nil {
		winner = Resolve(durable, cached, s.config.Policy)
	}
	return s.cache.PutEpisode(winner)
}

// SyncAllRecentEpisodes upserts every episode started at or after since
// into the cache. Per-episode failures are counted and do not stop the
// sweep.
func (s *Syncer) SyncAllRecentEpisodes(ctx context.Context, since time.Time) (synced int, failed int, err error) {
	episodes, err := s.storage.QueryEpisodesSince(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range episodes {
		if ctx.Err() != nil {
			return synced, failed, errors.Wrap(ctx.Err(), errors.KindCancelled, "sync cycle")
		}
		if err := s.cache.PutEpisode(e); err != nil {
			failed++
			s.logger.Warn("Failed to sync episode to cache", map[string]interface{}{
				"episode_id": e.EpisodeID.String(),
				"error":      err.Error(),
			})
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// RunCycle runs one synchronization cycle from the last sync point and
// updates the status.
func (s *Syncer) RunCycle(ctx context.Context) {
	s.mu.Lock()
	since := s.status.LastSync
	s.mu.Unlock()

	start := time.Now()
	synced, failed, err := s.SyncAllRecentEpisodes(ctx, since)

	s.mu.Lock()
	s.status.SyncCount++
	s.status.LastSync = start
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	s.mu.Unlock()

	s.metrics.IncrementCounter(observability.MetricSyncCycles, 1)
	if err != nil || failed > 0 {
		s.metrics.IncrementCounter(observability.MetricSyncErrors, uint64(failed))
		s.logger.Warn("Sync cycle finished with errors", map[string]interface{}{
			"synced": synced,
			"failed": failed,
		})
		return
	}
	s.logger.Debug("Sync cycle complete", map[string]interface{}{
		"synced":   synced,
		"duration": time.Since(start).String(),
	})
}

// Start launches the periodic cycle. Stop shuts it down.
func (s *Syncer) Start(ctx context.Context) {
	if s.config.Interval <= 0 {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunCycle(ctx)
			}
		}
	}()
}

// Stop halts the periodic cycle and waits for it to exit.
func (s *Syncer) Stop() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Status returns a copy of the synchronizer's state.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
