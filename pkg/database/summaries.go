package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

type summaryRow struct {
	EpisodeID        string `db:"episode_id"`
	SummaryText      string `db:"summary_text"`
	KeyConcepts      string `db:"key_concepts"`
	KeySteps         string `db:"key_steps"`
	SummaryEmbedding []byte `db:"summary_embedding"`
}

// StoreEpisodeSummary persists the one-to-one summary of an episode.
// Storing a summary for a missing episode is a Validation error.
func (s *Storage) StoreEpisodeSummary(ctx context.Context, summary *models.EpisodeSummary) error {
	if summary.EpisodeID == uuid.Nil {
		return errors.New(errors.KindValidation, "summary episode id must not be nil")
	}
	var exists int
	if err := s.db.GetContext(ctx, &exists,
		`SELECT COUNT(*) FROM episodes WHERE episode_id = ?`, summary.EpisodeID.String()); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to check episode existence")
	}
	if exists == 0 {
		return errors.Newf(errors.KindValidation, "episode %s does not exist", summary.EpisodeID)
	}

	concepts, err := models.MarshalEntity(orEmpty(summary.KeyConcepts))
	if err != nil {
		return err
	}
	steps, err := models.MarshalEntity(orEmpty(summary.KeySteps))
	if err != nil {
		return err
	}
	var embedding []byte
	if len(summary.SummaryEmbedding) > 0 {
		embedding = models.PackEmbedding(summary.SummaryEmbedding)
	}

	return s.withRetry(ctx, "store_episode_summary", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO episode_summaries (episode_id, summary_text, key_concepts, key_steps, summary_embedding)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (episode_id) DO UPDATE SET
				summary_text = excluded.summary_text,
				key_concepts = excluded.key_concepts,
				key_steps = excluded.key_steps,
				summary_embedding = excluded.summary_embedding`,
			summary.EpisodeID.String(), summary.SummaryText,
			string(concepts), string(steps), embedding)
		if err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to upsert episode summary")
		}
		return nil
	})
}

// GetEpisodeSummary fetches an episode's summary, NotFound when absent.
func (s *Storage) GetEpisodeSummary(ctx context.Context, episodeID uuid.UUID) (*models.EpisodeSummary, error) {
	var row summaryRow
	err := s.db.GetContext(ctx, &row,
		`SELECT episode_id, summary_text, key_concepts, key_steps, summary_embedding
		 FROM episode_summaries WHERE episode_id = ?`, episodeID.String())
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "no summary for episode %s", episodeID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to get episode summary")
	}

	summary := &models.EpisodeSummary{
		EpisodeID:   episodeID,
		SummaryText: row.SummaryText,
	}
	if err := models.UnmarshalEntity([]byte(row.KeyConcepts), &summary.KeyConcepts); err != nil {
		return nil, err
	}
	if err := models.UnmarshalEntity([]byte(row.KeySteps), &summary.KeySteps); err != nil {
		return nil, err
	}
	if len(row.SummaryEmbedding) > 0 {
		vec, err := models.UnpackEmbedding(row.SummaryEmbedding)
		if err != nil {
			return nil, err
		}
		summary.SummaryEmbedding = vec
	}
	return summary, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
