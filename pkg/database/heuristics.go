package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

type heuristicRow struct {
	HeuristicID string  `db:"heuristic_id"`
	Condition   string  `db:"condition"`
	Action      string  `db:"action"`
	Confidence  float64 `db:"confidence"`
	Evidence    string  `db:"evidence"`
	CreatedAt   int64   `db:"created_at"`
	UpdatedAt   int64   `db:"updated_at"`
}

func rowToHeuristic(row *heuristicRow) (*models.Heuristic, error) {
	id, err := uuid.Parse(row.HeuristicID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "invalid heuristic id in row")
	}
	h := &models.Heuristic{
		HeuristicID: id,
		Condition:   row.Condition,
		Action:      row.Action,
		Confidence:  row.Confidence,
		CreatedAt:   time.Unix(0, row.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, row.UpdatedAt).UTC(),
	}
	if err := models.UnmarshalEntity([]byte(row.Evidence), &h.Evidence); err != nil {
		return nil, err
	}
	return h, nil
}

// StoreHeuristic persists a heuristic, replacing any previous version.
func (s *Storage) StoreHeuristic(ctx context.Context, h *models.Heuristic) error {
	if err := h.Validate(); err != nil {
		return err
	}
	evidence, err := models.MarshalEntity(h.Evidence)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "store_heuristic", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO heuristics (heuristic_id, condition, action, confidence, evidence, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (heuristic_id) DO UPDATE SET
				condition = excluded.condition,
				action = excluded.action,
				confidence = excluded.confidence,
				evidence = excluded.evidence,
				updated_at = excluded.updated_at`,
			h.HeuristicID.String(), h.Condition, h.Action, h.Confidence,
			string(evidence), h.CreatedAt.UTC().UnixNano(), h.UpdatedAt.UTC().UnixNano())
		if err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to upsert heuristic")
		}
		return nil
	})
}

// GetHeuristic fetches a heuristic by id, NotFound when absent.
func (s *Storage) GetHeuristic(ctx context.Context, id uuid.UUID) (*models.Heuristic, error) {
	var row heuristicRow
	err := s.db.GetContext(ctx, &row,
		`SELECT heuristic_id, condition, action, confidence, evidence, created_at, updated_at
		 FROM heuristics WHERE heuristic_id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "heuristic %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to get heuristic")
	}
	return rowToHeuristic(&row)
}

// ListHeuristics lists heuristics at or above a confidence floor, most
// confident first.
func (s *Storage) ListHeuristics(ctx context.Context, minConfidence float64, limit int) ([]*models.Heuristic, error) {
	query := `SELECT heuristic_id, condition, action, confidence, evidence, created_at, updated_at
		 FROM heuristics WHERE confidence >= ? ORDER BY confidence DESC`
	args := []interface{}{minConfidence}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []heuristicRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to list heuristics")
	}
	heuristics := make([]*models.Heuristic, 0, len(rows))
	for i := range rows {
		h, err := rowToHeuristic(&rows[i])
		if err != nil {
			return nil, err
		}
		heuristics = append(heuristics, h)
	}
	return heuristics, nil
}

// DeleteHeuristic removes a heuristic.
func (s *Storage) DeleteHeuristic(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM heuristics WHERE heuristic_id = ?`, id.String())
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to delete heuristic")
	}
	return nil
}
