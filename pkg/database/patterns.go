package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

type patternRow struct {
	PatternID     string  `db:"pattern_id"`
	PatternType   string  `db:"pattern_type"`
	Payload       string  `db:"payload"`
	Domain        string  `db:"domain"`
	SuccessRate   float64 `db:"success_rate"`
	Effectiveness string  `db:"effectiveness"`
}

func patternToRow(p *models.Pattern) (*patternRow, error) {
	payload, err := models.MarshalEntity(p)
	if err != nil {
		return nil, err
	}
	eff, err := models.MarshalEntity(p.Effectiveness)
	if err != nil {
		return nil, err
	}
	return &patternRow{
		PatternID:     p.PatternID.String(),
		PatternType:   string(p.Type),
		Payload:       string(payload),
		Domain:        p.Domain(),
		SuccessRate:   p.SuccessRate(),
		Effectiveness: string(eff),
	}, nil
}

func rowToPattern(row *patternRow) (*models.Pattern, error) {
	var p models.Pattern
	if err := models.UnmarshalEntity([]byte(row.Payload), &p); err != nil {
		return nil, err
	}
	// The effectiveness column is the live copy; the payload snapshot may
	// lag behind UpdatePatternEffectiveness.
	if err := models.UnmarshalEntity([]byte(row.Effectiveness), &p.Effectiveness); err != nil {
		return nil, err
	}
	return &p, nil
}

// StorePattern persists a pattern, replacing any previous version.
func (s *Storage) StorePattern(ctx context.Context, p *models.Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	row, err := patternToRow(p)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "store_pattern", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO patterns (pattern_id, pattern_type, payload, domain, success_rate, effectiveness)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (pattern_id) DO UPDATE SET
				pattern_type = excluded.pattern_type,
				payload = excluded.payload,
				domain = excluded.domain,
				success_rate = excluded.success_rate,
				effectiveness = excluded.effectiveness`,
			row.PatternID, row.PatternType, row.Payload, row.Domain,
			row.SuccessRate, row.Effectiveness)
		if err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to upsert pattern")
		}
		return nil
	})
}

// GetPattern fetches a pattern by id, NotFound when absent.
func (s *Storage) GetPattern(ctx context.Context, id uuid.UUID) (*models.Pattern, error) {
	var row patternRow
	err := s.db.GetContext(ctx, &row,
		`SELECT pattern_id, pattern_type, payload, domain, success_rate, effectiveness
		 FROM patterns WHERE pattern_id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "pattern %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to get pattern")
	}
	return rowToPattern(&row)
}

// ListPatternsForContext lists patterns for a domain, best success rate
// first. An empty domain lists everything.
func (s *Storage) ListPatternsForContext(ctx context.Context, taskCtx models.TaskContext, limit int) ([]*models.Pattern, error) {
	query := `SELECT pattern_id, pattern_type, payload, domain, success_rate, effectiveness
		 FROM patterns`
	var args []interface{}
	if taskCtx.Domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, taskCtx.Domain)
	}
	query += ` ORDER BY success_rate DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []patternRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to list patterns")
	}
	patterns := make([]*models.Pattern, 0, len(rows))
	for i := range rows {
		p, err := rowToPattern(&rows[i])
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// ListAllPatterns lists every stored pattern.
func (s *Storage) ListAllPatterns(ctx context.Context) ([]*models.Pattern, error) {
	return s.ListPatternsForContext(ctx, models.TaskContext{}, 0)
}

// UpdatePatternEffectiveness persists just the effectiveness record of a
// pattern, leaving the payload untouched.
func (s *Storage) UpdatePatternEffectiveness(ctx context.Context, id uuid.UUID, eff models.PatternEffectiveness) error {
	data, err := models.MarshalEntity(eff)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE patterns SET effectiveness = ? WHERE pattern_id = ?`,
		string(data), id.String())
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to update pattern effectiveness")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.KindNotFound, "pattern %s not found", id)
	}
	return nil
}

// DeletePattern removes a pattern and its embedding.
func (s *Storage) DeletePattern(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		idStr := id.String()
		for _, dim := range models.AllDimensions() {
			stmt := `DELETE FROM embeddings_` + dim.TableSuffix() + ` WHERE owner_id = ?`
			if _, err := tx.ExecContext(ctx, stmt, idStr); err != nil {
				return errors.Wrap(err, errors.KindStorage, "failed to delete pattern embedding")
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE pattern_id = ?`, idStr); err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to delete pattern")
		}
		return nil
	})
}
