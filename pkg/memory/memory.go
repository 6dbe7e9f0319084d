// Package memory is the facade over the dual-tier store: authoritative
// writes go to the durable tier, reads are served from the hot cache when
// fresh, and background tasks (synchronizer cycles, extraction workers,
// cache sweeps) are owned here and shut down together.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/cache"
	"github.com/developer-mesh/memory-engine/pkg/cache/querycache"
	"github.com/developer-mesh/memory-engine/pkg/capacity"
	"github.com/developer-mesh/memory-engine/pkg/config"
	"github.com/developer-mesh/memory-engine/pkg/database"
	"github.com/developer-mesh/memory-engine/pkg/database/pool"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/extraction"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
	"github.com/developer-mesh/memory-engine/pkg/retrieval"
	"github.com/developer-mesh/memory-engine/pkg/syncer"
)

// Mode records which tier configuration the facade came up in after the
// startup fallback chain.
type Mode string

const (
	// ModeDurableLocal is a local file durable tier plus cache
	ModeDurableLocal Mode = "durable_local"
	// ModeDurableRemote is a remote durable tier plus cache
	ModeDurableRemote Mode = "durable_remote"
	// ModeCacheOnly runs entirely on the hot cache tier; entered when the
	// durable tier is unreachable but the cache file opened
	ModeCacheOnly Mode = "cache_only"
	// ModeMemoryOnly is an in-memory durable tier, used when nothing
	// else is reachable
	ModeMemoryOnly Mode = "memory_only"
)

// Memory is the engine facade. All authoritative reads and writes go
// through backend; storage is the same object when a durable tier is up
// and nil in cache-only mode, where durable-only operations degrade with
// a typed error.
type Memory struct {
	backend    Backend
	storage    *database.Storage
	hot        *cache.Cache
	queries    *querycache.Cache
	pool       *pool.Pool
	sync       *syncer.Syncer
	extraction *extraction.Queue
	retrieval  *retrieval.Engine
	rewards    *capacity.RewardCalculator

	mode    Mode
	logger  observability.Logger
	metrics *observability.MetricsRegistry

	cancelBackground context.CancelFunc
}

// Options carries optional collaborators for New.
type Options struct {
	// Logger defaults to a noop logger
	Logger observability.Logger
	// Metrics defaults to a fresh registry
	Metrics *observability.MetricsRegistry
	// Embedder may be nil; retrieval then skips the semantic signal
	Embedder retrieval.Embedder
	// Extractor defaults to the baseline tool-sequence extractor
	Extractor extraction.Extractor
}

// New brings the facade up with a graceful fallback chain: the configured
// durable tier (local or remote) first; if that is unreachable, cache-only
// mode on the hot tier alone; if the cache failed to open too, an
// in-memory durable tier. Each step is logged, and no configuration error
// is fatal as long as one tier is reachable.
func New(ctx context.Context, cfg config.Config, opts Options) (*Memory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}

	m := &Memory{logger: logger, metrics: metrics}

	// Hot cache tier first: it doubles as the cache-only fallback when
	// the durable tier is unreachable. Running without it is degraded
	// but legal.
	cacheCfg := cache.DefaultConfig()
	if cfg.MaxCacheSize > 0 {
		cacheCfg.MaxSize = cfg.MaxCacheSize
	}
	hot, err := cache.Open(cfg.CachePath, cacheCfg, logger.WithPrefix("cache"), metrics)
	if err != nil {
		logger.Warn("Cache tier unavailable, continuing without it", map[string]interface{}{
			"path":  cfg.CachePath,
			"error": err.Error(),
		})
	} else {
		m.hot = hot
	}

	// Durable tier, falling back to cache-only, then in-memory.
	url := cfg.DatabaseURL
	if url == "" {
		url = ":memory:"
	}
	storage, mode, err := openDurable(ctx, url, cfg.AuthToken, logger, metrics)
	switch {
	case err == nil:
		m.storage = storage
		m.backend = storage
		m.mode = mode
	case m.hot != nil:
		logger.Warn("Durable tier unreachable, running on the cache tier alone", map[string]interface{}{
			"error": err.Error(),
		})
		m.backend = newCacheBackend(m.hot)
		m.mode = ModeCacheOnly
	default:
		logger.Warn("Durable tier and cache both unreachable, falling back to in-memory", map[string]interface{}{
			"error": err.Error(),
		})
		storage, err = database.New(":memory:", "", logger, metrics)
		if err != nil {
			return nil, err
		}
		if err := storage.InitializeSchema(ctx); err != nil {
			_ = storage.Close()
			return nil, err
		}
		m.storage = storage
		m.backend = storage
		m.mode = ModeMemoryOnly
	}

	queries, err := querycache.New(querycache.DefaultConfig(), metrics)
	if err != nil {
		m.shutdownPartial()
		return nil, err
	}
	m.queries = queries
	m.rewards = capacity.NewRewardCalculator(nil)

	backgroundCtx, cancel := context.WithCancel(context.Background())
	m.cancelBackground = cancel

	// Pool, retrieval, extraction, and the synchronizer all need the
	// durable tier; cache-only mode runs without them.
	if m.storage != nil {
		poolCfg := pool.DefaultConfig()
		poolCfg.MaxConnections = cfg.Pool.MaxConnections
		poolCfg.ConnectionTimeout = cfg.Pool.ConnectionTimeout
		poolCfg.EnableHealthCheck = cfg.Pool.EnableHealthCheck
		poolCfg.HealthCheckTimeout = cfg.Pool.HealthCheckTimeout
		poolCfg.KeepAliveInterval = cfg.Pool.KeepAliveInterval
		poolCfg.StaleThreshold = cfg.Pool.StaleThreshold
		poolCfg.PingTimeout = cfg.Pool.PingTimeout
		dbPool, err := pool.New(ctx, m.storage.DB(), poolCfg, logger.WithPrefix("pool"), metrics)
		if err != nil {
			cancel()
			m.shutdownPartial()
			return nil, err
		}
		m.pool = dbPool

		m.retrieval = retrieval.New(m.storage, opts.Embedder, logger.WithPrefix("retrieval"), metrics)

		extractor := opts.Extractor
		if extractor == nil {
			extractor = extraction.NewToolSequenceExtractor()
		}
		m.extraction = extraction.New(m.storage, extractor, extraction.Config{
			Workers:      cfg.Extraction.Workers,
			QueueSize:    cfg.Extraction.QueueSize,
			PollInterval: cfg.Extraction.PollInterval,
		}, logger.WithPrefix("extraction"), metrics)
		m.extraction.Start(backgroundCtx)

		if m.hot != nil {
			m.sync = syncer.New(m.storage, m.hot, syncer.Config{
				Interval: cfg.Sync.Interval,
				Policy:   syncer.ParsePolicy(cfg.Sync.Policy),
			}, logger.WithPrefix("syncer"), metrics)
			m.sync.Start(backgroundCtx)
		}
	}

	logger.Info("Memory engine up", map[string]interface{}{"mode": string(m.mode)})
	return m, nil
}

func openDurable(ctx context.Context, url, token string, logger observability.Logger, metrics *observability.MetricsRegistry) (*database.Storage, Mode, error) {
	parsed, err := database.ParseDatabaseURL(url, token)
	if err != nil {
		return nil, "", err
	}
	storage, err := database.New(url, token, logger.WithPrefix("durable"), metrics)
	if err != nil {
		return nil, "", err
	}
	if err := storage.InitializeSchema(ctx); err != nil {
		_ = storage.Close()
		return nil, "", err
	}
	switch parsed.Scheme {
	case database.SchemeRemote:
		return storage, ModeDurableRemote, nil
	case database.SchemeFile:
		return storage, ModeDurableLocal, nil
	default:
		return storage, ModeMemoryOnly, nil
	}
}

func (m *Memory) shutdownPartial() {
	if m.hot != nil {
		_ = m.hot.Close()
	}
	if m.storage != nil {
		_ = m.storage.Close()
	}
}

// Mode reports which tier configuration the facade is running in.
func (m *Memory) Mode() Mode { return m.mode }

// closeDeadline bounds how long Close waits for background tasks.
const closeDeadline = 30 * time.Second

// Close stops background tasks and releases every tier.
func (m *Memory) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeDeadline)
	defer cancel()

	if m.sync != nil {
		m.sync.Stop()
	}
	if m.extraction != nil {
		m.extraction.Shutdown()
	}
	if m.cancelBackground != nil {
		m.cancelBackground()
	}
	if m.pool != nil {
		_ = m.pool.Shutdown(ctx)
	}
	if m.hot != nil {
		_ = m.hot.Close()
	}
	if m.storage != nil {
		return m.storage.Close()
	}
	return nil
}

// durableUnavailable reports a durable-only operation attempted in
// cache-only mode.
func durableUnavailable(op string) error {
	return errors.Newf(errors.KindStorage,
		"%s requires the durable tier, which is unavailable in cache-only mode", op)
}

// StartEpisode records the beginning of a task and returns the new episode.
func (m *Memory) StartEpisode(ctx context.Context, taskDescription string, taskCtx models.TaskContext, taskType models.TaskType) (*models.Episode, error) {
	e := models.NewEpisode(taskDescription, taskCtx, taskType)
	if err := m.storeAndWarm(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// LogStep appends an execution step to an open episode.
func (m *Memory) LogStep(ctx context.Context, episodeID uuid.UUID, step models.ExecutionStep) error {
	e, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if err := e.AddStep(step); err != nil {
		return err
	}
	return m.storeAndWarm(ctx, e)
}

// UpdateEpisode persists caller-side mutations of an episode.
func (m *Memory) UpdateEpisode(ctx context.Context, e *models.Episode) error {
	return m.storeAndWarm(ctx, e)
}

// AddTags adds tags to an episode, ignoring duplicates.
func (m *Memory) AddTags(ctx context.Context, episodeID uuid.UUID, tags ...string) error {
	e, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		e.AddTag(tag)
	}
	return m.storeAndWarm(ctx, e)
}

// RemoveTag removes a tag from an episode if present.
func (m *Memory) RemoveTag(ctx context.Context, episodeID uuid.UUID, tag string) error {
	e, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	e.RemoveTag(tag)
	return m.storeAndWarm(ctx, e)
}

// SetTags replaces an episode's tag set with a deduplicated, sorted copy.
func (m *Memory) SetTags(ctx context.Context, episodeID uuid.UUID, tags []string) error {
	e, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	e.SetTags(tags)
	return m.storeAndWarm(ctx, e)
}

// CompleteEpisode closes an episode: the outcome is recorded, the adaptive
// reward computed, the affected query-cache domain invalidated, and the
// episode queued for pattern extraction.
func (m *Memory) CompleteEpisode(ctx context.Context, episodeID uuid.UUID, outcome models.TaskOutcome) (*models.Episode, error) {
	e, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if err := e.Complete(outcome); err != nil {
		return nil, err
	}
	reward := m.rewards.Calculate(e)
	e.Reward = &reward

	if err := m.storeAndWarm(ctx, e); err != nil {
		return nil, err
	}

	m.queries.InvalidateDomain(e.Context.Domain)
	if m.extraction != nil {
		m.extraction.EnqueueEpisode(e.EpisodeID)
	}
	return e, nil
}

// storeAndWarm writes to the authoritative backend and warms the cache.
// A cache failure after a durable success is logged and healed by the next
// sync cycle; it never surfaces to the caller. In cache-only mode the
// backend write is the cache write and no second pass is needed.
func (m *Memory) storeAndWarm(ctx context.Context, e *models.Episode) error {
	if err := m.backend.StoreEpisode(ctx, e); err != nil {
		return err
	}
	if m.hot != nil && m.storage != nil {
		if err := m.hot.PutEpisode(e); err != nil {
			m.logger.Warn("Cache warm failed after durable write, sync will heal it", map[string]interface{}{
				"episode_id": e.EpisodeID.String(),
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// GetEpisode reads an episode: hot cache first, durable fallback with
// promotion into the cache.
func (m *Memory) GetEpisode(ctx context.Context, id uuid.UUID) (*models.Episode, error) {
	start := time.Now()
	defer func() { m.metrics.RecordLatency("get_episode", time.Since(start)) }()

	if m.hot != nil {
		if e, ok, err := m.hot.GetEpisode(id); err == nil && ok {
			return e, nil
		}
	}
	e, err := m.backend.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.hot != nil && m.storage != nil {
		if err := m.hot.PutEpisode(e); err != nil {
			m.logger.Debug("Cache promotion failed", map[string]interface{}{
				"episode_id": id.String(),
			})
		}
	}
	return e, nil
}

// DeleteEpisode removes an episode from both tiers.
func (m *Memory) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	if err := m.backend.DeleteEpisode(ctx, id); err != nil {
		return err
	}
	if m.hot != nil && m.storage != nil {
		_ = m.hot.DeleteEpisode(id)
	}
	return nil
}

// QueryEpisodes lists episodes for a filter through the query cache: a
// fingerprint hit skips the durable tier entirely.
func (m *Memory) QueryEpisodes(ctx context.Context, queryText string, domain string, tags []string, limit int) ([]*models.Episode, error) {
	key := querycache.Key{QueryText: queryText, Domain: domain, Tags: tags, Limit: limit}
	if cached, ok := m.queries.GetEpisodes(key); ok {
		return cached, nil
	}
	if m.storage == nil {
		return nil, durableUnavailable("query_episodes")
	}

	filter := database.EpisodeFilter{Tags: tags}
	if domain != "" {
		filter.Domains = []string{domain}
	}
	episodes, err := m.storage.ListEpisodesFiltered(ctx, filter, limit, 0)
	if err != nil {
		return nil, err
	}
	if queryText != "" {
		matched := episodes[:0]
		for _, e := range episodes {
			fields := append([]string{e.TaskDescription}, e.Tags...)
			if _, ok := retrieval.BestFuzzyMatch(fields, queryText, retrieval.DefaultFuzzyThreshold); ok {
				matched = append(matched, e)
			}
		}
		episodes = matched
	}

	m.queries.PutEpisodes(key, episodes)
	return episodes, nil
}

// RetrieveRelevantContext delegates to the retrieval engine.
func (m *Memory) RetrieveRelevantContext(ctx context.Context, query string, taskCtx models.TaskContext, limit int) ([]*models.Episode, error) {
	if m.retrieval == nil {
		return nil, durableUnavailable("retrieve_relevant_context")
	}
	return m.retrieval.RetrieveRelevantContext(ctx, query, taskCtx, limit)
}

// RetrieveRelevantPatterns delegates to the retrieval engine.
func (m *Memory) RetrieveRelevantPatterns(ctx context.Context, taskCtx models.TaskContext, limit int) ([]*models.Pattern, error) {
	if m.retrieval == nil {
		return nil, durableUnavailable("retrieve_relevant_patterns")
	}
	return m.retrieval.RetrieveRelevantPatterns(ctx, taskCtx, limit)
}

// SearchPatterns delegates to the retrieval engine with explicit weights.
func (m *Memory) SearchPatterns(ctx context.Context, query string, taskCtx models.TaskContext, cfg retrieval.SearchConfig, limit int) ([]retrieval.PatternSearchResult, error) {
	if m.retrieval == nil {
		return nil, durableUnavailable("search_patterns")
	}
	return m.retrieval.SearchPatternsWithConfig(ctx, query, taskCtx, cfg, limit)
}

// RecommendPatternsForTask delegates to the retrieval engine's recommender.
func (m *Memory) RecommendPatternsForTask(ctx context.Context, taskDesc string, taskCtx models.TaskContext, limit int) ([]retrieval.PatternSearchResult, error) {
	if m.retrieval == nil {
		return nil, durableUnavailable("recommend_patterns_for_task")
	}
	return m.retrieval.RecommendPatternsForTask(ctx, taskDesc, taskCtx, limit)
}

// StoreEpisodeEmbedding stores an episode embedding in the authoritative
// backend and warms the cache tier's copy.
func (m *Memory) StoreEpisodeEmbedding(ctx context.Context, episodeID uuid.UUID, vec []float32) error {
	if err := m.backend.StoreEpisodeEmbedding(ctx, episodeID, vec); err != nil {
		return err
	}
	if m.hot != nil && m.storage != nil {
		if err := m.hot.PutEmbedding(models.OwnerEpisode, episodeID, vec); err != nil {
			m.logger.Warn("Embedding cache warm failed", map[string]interface{}{
				"episode_id": episodeID.String(),
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// GetEpisodeEmbedding reads an episode embedding, cache first.
func (m *Memory) GetEpisodeEmbedding(ctx context.Context, episodeID uuid.UUID) ([]float32, error) {
	if m.hot != nil {
		if vec, ok, err := m.hot.GetEmbedding(models.OwnerEpisode, episodeID); err == nil && ok {
			return vec, nil
		}
	}
	vec, err := m.backend.GetEpisodeEmbedding(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if m.hot != nil && m.storage != nil {
		_ = m.hot.PutEmbedding(models.OwnerEpisode, episodeID, vec)
	}
	return vec, nil
}

// FindSimilarEpisodes returns episodes whose embeddings resemble the query
// vector, most similar first. The linear similarity scan lives in the
// durable tier.
func (m *Memory) FindSimilarEpisodes(ctx context.Context, query []float32, limit int, threshold float64) ([]*models.Episode, error) {
	if m.storage == nil {
		return nil, durableUnavailable("find_similar_episodes")
	}
	matches, err := m.storage.FindSimilarEpisodes(ctx, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(matches))
	for i, match := range matches {
		ids[i] = match.OwnerID
	}
	return m.storage.GetEpisodesByIDs(ctx, ids)
}

// StoreEpisodeSummary persists the compressed representation of an episode.
func (m *Memory) StoreEpisodeSummary(ctx context.Context, summary *models.EpisodeSummary) error {
	if m.storage == nil {
		return durableUnavailable("store_episode_summary")
	}
	return m.storage.StoreEpisodeSummary(ctx, summary)
}

// GetEpisodeSummary fetches an episode's summary.
func (m *Memory) GetEpisodeSummary(ctx context.Context, episodeID uuid.UUID) (*models.EpisodeSummary, error) {
	if m.storage == nil {
		return nil, durableUnavailable("get_episode_summary")
	}
	return m.storage.GetEpisodeSummary(ctx, episodeID)
}

// AddRelationship inserts a directed edge between episodes, with the
// acyclic types validated against the existing graph.
func (m *Memory) AddRelationship(ctx context.Context, rel *models.EpisodeRelationship) error {
	if m.storage == nil {
		return durableUnavailable("add_relationship")
	}
	return m.storage.AddRelationship(ctx, rel)
}

// ListRelationships lists edges touching an episode.
func (m *Memory) ListRelationships(ctx context.Context, episodeID uuid.UUID) ([]*models.EpisodeRelationship, error) {
	if m.storage == nil {
		return nil, durableUnavailable("list_relationships")
	}
	return m.storage.ListRelationships(ctx, episodeID)
}

// TopologicalOrder orders episodes so dependencies come first.
func (m *Memory) TopologicalOrder(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if m.storage == nil {
		return nil, durableUnavailable("topological_order")
	}
	return m.storage.TopologicalOrder(ctx, ids)
}

// RecordPatternApplication records that a pattern was applied during an
// episode and folds the outcome into the pattern's effectiveness.
func (m *Memory) RecordPatternApplication(ctx context.Context, episodeID, patternID uuid.UUID, outcome models.ApplicationOutcome, rewardDelta float64) error {
	e, err := m.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	e.RecordAppliedPattern(patternID, outcome)
	if err := m.storeAndWarm(ctx, e); err != nil {
		return err
	}

	p, err := m.backend.GetPattern(ctx, patternID)
	if err != nil {
		return err
	}
	if outcome != models.ApplicationPending {
		p.RecordApplication(outcome == models.ApplicationHelped, rewardDelta)
		if err := m.backend.UpdatePatternEffectiveness(ctx, patternID, p.Effectiveness); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDomainStatistics recalibrates the reward calculator for a domain.
func (m *Memory) UpdateDomainStatistics(stats models.DomainStatistics) {
	m.rewards.UpdateDomain(stats)
}

// WaitForExtraction blocks until queued extractions drain or the timeout
// elapses. Intended for tests and shutdown paths. A no-op in cache-only
// mode, where extraction does not run.
func (m *Memory) WaitForExtraction(timeout time.Duration) error {
	if m.extraction == nil {
		return nil
	}
	return m.extraction.WaitUntilEmpty(timeout)
}

// HealthCheck probes the active backend: the durable tier through a pooled
// connection, or the cache tier directly in cache-only mode.
func (m *Memory) HealthCheck(ctx context.Context) (bool, error) {
	if m.pool == nil {
		return m.backend.HealthCheck(ctx)
	}
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	var one int
	if err := conn.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return false, nil
	}
	return true, nil
}

// Statistics aggregates entity counts and cache state for operators.
type Statistics struct {
	Storage    database.Statistics `json:"storage"`
	Cache      *cache.Stats        `json:"cache,omitempty"`
	Queries    querycache.Stats    `json:"queries"`
	Pool       pool.Statistics     `json:"pool"`
	Extraction extraction.Stats    `json:"extraction"`
	Mode       Mode                `json:"mode"`
}

// GetStatistics reports counts across every tier. With a durable tier up,
// entity counts are read through a pooled connection with prepared
// statements; cache-only mode reports cache and query-cache state with the
// durable counts zeroed.
func (m *Memory) GetStatistics(ctx context.Context) (Statistics, error) {
	stats := Statistics{Mode: m.mode}

	if m.pool != nil {
		conn, err := m.pool.Acquire(ctx)
		if err != nil {
			return Statistics{}, err
		}
		defer conn.Release()

		counts := []struct {
			query string
			dest  *int
		}{
			{"SELECT COUNT(*) FROM episodes", &stats.Storage.EpisodeCount},
			{"SELECT COUNT(*) FROM patterns", &stats.Storage.PatternCount},
			{"SELECT COUNT(*) FROM heuristics", &stats.Storage.HeuristicCount},
		}
		for _, c := range counts {
			if err := conn.GetContext(ctx, c.dest, c.query); err != nil {
				return Statistics{}, err
			}
		}
		stats.Pool = m.pool.Statistics()
	}

	if m.hot != nil {
		cacheStats := m.hot.Stats()
		stats.Cache = &cacheStats
	}
	stats.Queries = m.queries.Stats()
	if m.extraction != nil {
		stats.Extraction = m.extraction.Stats()
	}
	return stats, nil
}

// ExportMetrics renders the metrics registry as text. The facade does no
// I/O; consumers expose the text however they need to.
func (m *Memory) ExportMetrics() string {
	return observability.Export(m.metrics.Snapshot())
}

// SyncStatus reports synchronizer state, zero value when the cache tier is
// absent.
func (m *Memory) SyncStatus() syncer.Status {
	if m.sync == nil {
		return syncer.Status{}
	}
	return m.sync.Status()
}

// Storage exposes the durable tier for collaborators that need operations
// beyond the facade (relationships, summaries, embeddings). Nil in
// cache-only mode.
func (m *Memory) Storage() *database.Storage { return m.storage }

// Backend exposes the active authoritative backend.
func (m *Memory) Backend() Backend { return m.backend }
