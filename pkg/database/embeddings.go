package database

import (
	"context"
	"database/sql"
	"sort"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/compression"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
	"github.com/developer-mesh/memory-engine/pkg/observability"
)

// Embedding vectors are packed little-endian and routed to the physical
// table matching their dimension. Blobs above the compression threshold are
// framed through the payload codec; packed floats compress well.

type embeddingRow struct {
	OwnerID   string `db:"owner_id"`
	OwnerKind string `db:"owner_kind"`
	Embedding []byte `db:"embedding"`
}

func (s *Storage) storeEmbedding(ctx context.Context, ownerID uuid.UUID, kind models.OwnerKind, vec []float32) error {
	if len(vec) == 0 {
		return errors.New(errors.KindValidation, "embedding must not be empty")
	}
	packed := models.PackEmbedding(vec)
	payload, err := compression.Compress(packed, compression.DefaultThreshold)
	if err != nil {
		return err
	}
	if saved := payload.BytesSaved(); saved > 0 {
		s.metrics.IncrementCounter(observability.MetricCompressionSaved, uint64(saved))
	}
	blob := models.Frame(models.PayloadEmbedding, byte(payload.Algorithm), payload.OriginalSize, payload.Data)

	table := "embeddings_" + models.DimensionFor(len(vec)).TableSuffix()
	return s.withRetry(ctx, "store_embedding", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO `+table+` (owner_id, owner_kind, embedding)
			VALUES (?, ?, ?)
			ON CONFLICT (owner_id) DO UPDATE SET
				owner_kind = excluded.owner_kind,
				embedding = excluded.embedding`,
			ownerID.String(), string(kind), blob)
		if err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to store embedding")
		}
		return nil
	})
}

func (s *Storage) getEmbedding(ctx context.Context, ownerID uuid.UUID, kind models.OwnerKind) ([]float32, error) {
	for _, dim := range models.AllDimensions() {
		table := "embeddings_" + dim.TableSuffix()
		var blob []byte
		err := s.db.GetContext(ctx, &blob,
			`SELECT embedding FROM `+table+` WHERE owner_id = ? AND owner_kind = ?`,
			ownerID.String(), string(kind))
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.KindStorage, "failed to get embedding")
		}
		return decodeEmbeddingBlob(blob)
	}
	return nil, errors.Newf(errors.KindNotFound, "no embedding for %s %s", kind, ownerID)
}

func decodeEmbeddingBlob(blob []byte) ([]float32, error) {
	kind, tag, originalSize, body, err := models.Unframe(blob)
	if err != nil {
		return nil, err
	}
	if kind != models.PayloadEmbedding {
		return nil, errors.Newf(errors.KindSerialization, "expected embedding payload, got kind %d", kind)
	}
	packed, err := compression.DecompressRaw(body, compression.Algorithm(tag), originalSize)
	if err != nil {
		return nil, err
	}
	return models.UnpackEmbedding(packed)
}

// StoreEpisodeEmbedding stores an embedding for an episode.
func (s *Storage) StoreEpisodeEmbedding(ctx context.Context, episodeID uuid.UUID, vec []float32) error {
	return s.storeEmbedding(ctx, episodeID, models.OwnerEpisode, vec)
}

// StorePatternEmbedding stores an embedding for a pattern.
func (s *Storage) StorePatternEmbedding(ctx context.Context, patternID uuid.UUID, vec []float32) error {
	return s.storeEmbedding(ctx, patternID, models.OwnerPattern, vec)
}

// GetEpisodeEmbedding fetches an episode's embedding, NotFound when absent.
func (s *Storage) GetEpisodeEmbedding(ctx context.Context, episodeID uuid.UUID) ([]float32, error) {
	return s.getEmbedding(ctx, episodeID, models.OwnerEpisode)
}

// GetPatternEmbedding fetches a pattern's embedding, NotFound when absent.
func (s *Storage) GetPatternEmbedding(ctx context.Context, patternID uuid.UUID) ([]float32, error) {
	return s.getEmbedding(ctx, patternID, models.OwnerPattern)
}

// SimilarityMatch pairs an owner id with its cosine similarity to a query.
type SimilarityMatch struct {
	OwnerID    uuid.UUID
	Similarity float64
}

// findSimilar linearly scans the dimension table matching the query vector
// and returns the top-limit owners at or above the threshold, most similar
// first. Only the matching dimension is scanned; vectors of other widths
// cannot be compared anyway.
func (s *Storage) findSimilar(ctx context.Context, query []float32, kind models.OwnerKind, limit int, threshold float64) ([]SimilarityMatch, error) {
	if len(query) == 0 {
		return nil, errors.New(errors.KindValidation, "query embedding must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	table := "embeddings_" + models.DimensionFor(len(query)).TableSuffix()

	var rows []embeddingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT owner_id, owner_kind, embedding FROM `+table+` WHERE owner_kind = ?`,
		string(kind))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to scan embeddings")
	}

	matches := make([]SimilarityMatch, 0, len(rows))
	for _, row := range rows {
		vec, err := decodeEmbeddingBlob(row.Embedding)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(query) {
			continue
		}
		sim := models.CosineSimilarity(query, vec)
		if sim < threshold {
			continue
		}
		ownerID, err := uuid.Parse(row.OwnerID)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindSerialization, "invalid owner id in embedding row")
		}
		matches = append(matches, SimilarityMatch{OwnerID: ownerID, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindSimilarEpisodes returns episodes whose embeddings are similar to the
// query vector, most similar first.
func (s *Storage) FindSimilarEpisodes(ctx context.Context, query []float32, limit int, threshold float64) ([]SimilarityMatch, error) {
	return s.findSimilar(ctx, query, models.OwnerEpisode, limit, threshold)
}

// FindSimilarPatterns returns patterns whose embeddings are similar to the
// query vector, most similar first.
func (s *Storage) FindSimilarPatterns(ctx context.Context, query []float32, limit int, threshold float64) ([]SimilarityMatch, error) {
	return s.findSimilar(ctx, query, models.OwnerPattern, limit, threshold)
}
