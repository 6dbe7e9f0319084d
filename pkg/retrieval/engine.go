package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/developer-mesh/memory-engine/pkg/database"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Embedder produces query embeddings. Embedding providers live outside the
// core; a nil Embedder simply zeroes the semantic signal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchConfig tunes multi-signal pattern search. Weights should sum to 1.
type SearchConfig struct {
	SemanticWeight      float64
	ContextWeight       float64
	EffectivenessWeight float64
	RecencyWeight       float64
	SuccessWeight       float64
	// MinRelevance drops results scoring below it
	MinRelevance float64
	// DomainFilter requires pattern.context.domain == query domain
	DomainFilter bool
	// MinQuality drops patterns whose success rate is below it
	MinQuality float64
}

// DefaultSearchConfig returns the standard signal weights.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		SemanticWeight:      0.30,
		ContextWeight:       0.25,
		EffectivenessWeight: 0.20,
		RecencyWeight:       0.10,
		SuccessWeight:       0.15,
		MinRelevance:        0.1,
	}
}

// ScoreBreakdown itemizes the signals behind one result's relevance.
type ScoreBreakdown struct {
	Semantic      float64 `json:"semantic"`
	ContextMatch  float64 `json:"context_match"`
	Effectiveness float64 `json:"effectiveness"`
	Recency       float64 `json:"recency"`
	SuccessRate   float64 `json:"success_rate"`
}

// PatternSearchResult is one ranked pattern with its score breakdown.
type PatternSearchResult struct {
	Pattern   *models.Pattern `json:"pattern"`
	Relevance float64         `json:"relevance"`
	Breakdown ScoreBreakdown  `json:"breakdown"`
}

// recencyHalfLifeDays is the e-folding time of the pattern recency signal.
const recencyHalfLifeDays = 30.0

// Engine ranks patterns and episodes for recall against the durable tier.
type Engine struct {
	storage  *database.Storage
	embedder Embedder
	logger   observability.Logger
	metrics  *observability.MetricsRegistry
	now      func() time.Time
}

// New creates a retrieval engine. embedder may be nil.
func New(storage *database.Storage, embedder Embedder, logger observability.Logger, metrics *observability.MetricsRegistry) *Engine {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetricsRegistry()
	}
	return &Engine{
		storage:  storage,
		embedder: embedder,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// SearchPatternsWithConfig ranks stored patterns against a query and task
// context with the given signal weights. Every returned pattern has its
// retrieval recorded.
func (e *Engine) SearchPatternsWithConfig(ctx context.Context, query string, taskCtx models.TaskContext, cfg SearchConfig, limit int) ([]PatternSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	patterns, err := e.storage.ListAllPatterns(ctx)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	if e.embedder != nil && query != "" {
		queryVec, err = e.embedder.Embed(ctx, query)
		if err != nil {
			// Semantic signal degrades to zero rather than failing the
			// whole search.
			e.logger.Warn("Query embedding failed, searching without semantic signal", map[string]interface{}{
				"error": err.Error(),
			})
			queryVec = nil
		}
	}

	now := e.now().UTC()
	results := make([]PatternSearchResult, 0, len(patterns))
	for _, p := range patterns {
		if cfg.DomainFilter && p.Domain() != taskCtx.Domain {
			continue
		}
		if cfg.MinQuality > 0 && p.SuccessRate() < cfg.MinQuality {
			continue
		}

		breakdown := ScoreBreakdown{
			ContextMatch:  contextMatchFor(p, taskCtx),
			Effectiveness: p.Effectiveness.Score(),
			Recency:       math.Exp(-now.Sub(p.Effectiveness.LastUsed).Hours() / 24 / recencyHalfLifeDays),
			SuccessRate:   p.SuccessRate(),
		}
		if len(queryVec) > 0 {
			if patternVec, err := e.storage.GetPatternEmbedding(ctx, p.PatternID); err == nil {
				breakdown.Semantic = models.CosineSimilarity(queryVec, patternVec)
			} else if !errors.IsNotFound(err) {
				return nil, err
			}
			// Patterns without embeddings score 0 on the semantic axis.
		}

		relevance := cfg.SemanticWeight*breakdown.Semantic +
			cfg.ContextWeight*breakdown.ContextMatch +
			cfg.EffectivenessWeight*breakdown.Effectiveness +
			cfg.RecencyWeight*breakdown.Recency +
			cfg.SuccessWeight*breakdown.SuccessRate

		if relevance < cfg.MinRelevance {
			continue
		}
		results = append(results, PatternSearchResult{Pattern: p, Relevance: relevance, Breakdown: breakdown})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > limit {
		results = results[:limit]
	}

	for _, r := range results {
		r.Pattern.RecordRetrieval()
		if err := e.storage.UpdatePatternEffectiveness(ctx, r.Pattern.PatternID, r.Pattern.Effectiveness); err != nil {
			e.logger.Warn("Failed to persist retrieval count", map[string]interface{}{
				"pattern_id": r.Pattern.PatternID.String(),
				"error":      err.Error(),
			})
		}
	}
	return results, nil
}

// contextMatchFor compares the query context against a pattern's context,
// falling back to the context pattern's feature list.
func contextMatchFor(p *models.Pattern, taskCtx models.TaskContext) float64 {
	if pCtx := p.Context(); pCtx != nil {
		return models.ContextMatch(*pCtx, taskCtx)
	}
	if p.Type == models.PatternContext {
		return models.ContextMatch(models.TaskContext{Tags: p.ContextBased.ContextFeatures}, taskCtx)
	}
	return 0
}

// RetrieveRelevantPatterns returns the patterns most relevant to the task
// context, without a textual query.
func (e *Engine) RetrieveRelevantPatterns(ctx context.Context, taskCtx models.TaskContext, limit int) ([]*models.Pattern, error) {
	results, err := e.SearchPatternsWithConfig(ctx, "", taskCtx, DefaultSearchConfig(), limit)
	if err != nil {
		return nil, err
	}
	patterns := make([]*models.Pattern, len(results))
	for i, r := range results {
		patterns[i] = r.Pattern
	}
	return patterns, nil
}

// recommendMinQuality is the success-rate floor for recommendations.
const recommendMinQuality = 0.3

// RecommendPatternsForTask ranks patterns for a concrete task description
// with the domain filter and a minimum-quality floor enabled.
func (e *Engine) RecommendPatternsForTask(ctx context.Context, taskDesc string, taskCtx models.TaskContext, limit int) ([]PatternSearchResult, error) {
	cfg := DefaultSearchConfig()
	cfg.DomainFilter = true
	cfg.MinQuality = recommendMinQuality
	return e.SearchPatternsWithConfig(ctx, taskDesc, taskCtx, cfg, limit)
}

// Episode ranking weights for RetrieveRelevantContext.
const (
	episodeTextWeight    = 0.5
	episodeContextWeight = 0.3
	episodeRecencyWeight = 0.2
)

// RetrieveRelevantContext returns episodes relevant to a query, ranked by
// text match, context match, and recency, then diversified with MMR so the
// result set is not five variations of the same experience.
func (e *Engine) RetrieveRelevantContext(ctx context.Context, query string, taskCtx models.TaskContext, limit int) ([]*models.Episode, error) {
	if limit <= 0 {
		limit = 10
	}

	// Over-fetch so MMR has something to diversify over.
	episodes, err := e.storage.ListEpisodesFiltered(ctx, database.EpisodeFilter{}, limit*4, 0)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return []*models.Episode{}, nil
	}

	now := e.now().UTC()
	candidates := make([]MMRCandidate, len(episodes))
	for i, ep := range episodes {
		textScore := 0.0
		if query != "" {
			fields := []string{ep.TaskDescription}
			fields = append(fields, ep.Tags...)
			if score, ok := BestFuzzyMatch(fields, query, DefaultFuzzyThreshold); ok {
				textScore = score
			}
		}
		relevance := episodeTextWeight*textScore +
			episodeContextWeight*models.ContextMatch(ep.Context, taskCtx) +
			episodeRecencyWeight*math.Exp(-now.Sub(ep.EffectiveTimestamp()).Hours()/24)

		var embedding []float32
		if vec, err := e.storage.GetEpisodeEmbedding(ctx, ep.EpisodeID); err == nil {
			embedding = vec
		} else if !errors.IsNotFound(err) {
			return nil, err
		}
		candidates[i] = MMRCandidate{Relevance: relevance, Embedding: embedding}
	}

	picked := MaxMarginalRelevance(candidates, DefaultMMRLambda, limit)
	out := make([]*models.Episode, len(picked))
	for i, idx := range picked {
		out[i] = episodes[idx]
	}
	return out, nil
}
