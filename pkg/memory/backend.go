package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/cache"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

// Backend is the storage surface the facade dispatches against: the
// operations both tiers can serve. The durable tier and the hot cache are
// separate implementations, and cache-only mode is just the cache
// implementation standing alone. Durable-only operations (filter listings,
// relationships, summaries, similarity scans) stay on *database.Storage
// and degrade with a typed error when that tier is absent.
type Backend interface {
	StoreEpisode(ctx context.Context, e *models.Episode) error
	GetEpisode(ctx context.Context, id uuid.UUID) (*models.Episode, error)
	DeleteEpisode(ctx context.Context, id uuid.UUID) error

	StorePattern(ctx context.Context, p *models.Pattern) error
	GetPattern(ctx context.Context, id uuid.UUID) (*models.Pattern, error)
	ListAllPatterns(ctx context.Context) ([]*models.Pattern, error)
	UpdatePatternEffectiveness(ctx context.Context, id uuid.UUID, eff models.PatternEffectiveness) error

	StoreEpisodeEmbedding(ctx context.Context, episodeID uuid.UUID, vec []float32) error
	GetEpisodeEmbedding(ctx context.Context, episodeID uuid.UUID) ([]float32, error)
	StorePatternEmbedding(ctx context.Context, patternID uuid.UUID, vec []float32) error
	GetPatternEmbedding(ctx context.Context, patternID uuid.UUID) ([]float32, error)

	HealthCheck(ctx context.Context) (bool, error)
}

// cacheBackend adapts the hot cache tier to the Backend interface so the
// facade can run on it alone when the durable tier is unreachable.
type cacheBackend struct {
	hot *cache.Cache
}

// newCacheBackend wraps a cache as a standalone backend.
func newCacheBackend(hot *cache.Cache) Backend {
	return &cacheBackend{hot: hot}
}

func (b *cacheBackend) StoreEpisode(_ context.Context, e *models.Episode) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return b.hot.PutEpisode(e)
}

func (b *cacheBackend) GetEpisode(_ context.Context, id uuid.UUID) (*models.Episode, error) {
	e, ok, err := b.hot.GetEpisode(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "episode %s not found", id)
	}
	return e, nil
}

func (b *cacheBackend) DeleteEpisode(_ context.Context, id uuid.UUID) error {
	return b.hot.DeleteEpisode(id)
}

func (b *cacheBackend) StorePattern(_ context.Context, p *models.Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return b.hot.PutPattern(p)
}

func (b *cacheBackend) GetPattern(_ context.Context, id uuid.UUID) (*models.Pattern, error) {
	p, ok, err := b.hot.GetPattern(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "pattern %s not found", id)
	}
	return p, nil
}

func (b *cacheBackend) ListAllPatterns(_ context.Context) ([]*models.Pattern, error) {
	return b.hot.ListPatterns()
}

func (b *cacheBackend) UpdatePatternEffectiveness(ctx context.Context, id uuid.UUID, eff models.PatternEffectiveness) error {
	p, err := b.GetPattern(ctx, id)
	if err != nil {
		return err
	}
	p.Effectiveness = eff
	return b.hot.PutPattern(p)
}

func (b *cacheBackend) StoreEpisodeEmbedding(_ context.Context, episodeID uuid.UUID, vec []float32) error {
	if len(vec) == 0 {
		return errors.New(errors.KindValidation, "embedding must not be empty")
	}
	return b.hot.PutEmbedding(models.OwnerEpisode, episodeID, vec)
}

func (b *cacheBackend) GetEpisodeEmbedding(_ context.Context, episodeID uuid.UUID) ([]float32, error) {
	vec, ok, err := b.hot.GetEmbedding(models.OwnerEpisode, episodeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "no embedding for episode %s", episodeID)
	}
	return vec, nil
}

func (b *cacheBackend) StorePatternEmbedding(_ context.Context, patternID uuid.UUID, vec []float32) error {
	if len(vec) == 0 {
		return errors.New(errors.KindValidation, "embedding must not be empty")
	}
	return b.hot.PutEmbedding(models.OwnerPattern, patternID, vec)
}

func (b *cacheBackend) GetPatternEmbedding(_ context.Context, patternID uuid.UUID) ([]float32, error) {
	vec, ok, err := b.hot.GetEmbedding(models.OwnerPattern, patternID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "no embedding for pattern %s", patternID)
	}
	return vec, nil
}

func (b *cacheBackend) HealthCheck(context.Context) (bool, error) {
	// An open cache file is a healthy cache-only backend.
	return true, nil
}
