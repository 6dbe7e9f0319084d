package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/memory-engine/pkg/capacity"
	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

// episodeRow is the sqlx mapping of the episodes table. Complex fields are
// JSON so they stay queryable through json_extract.
type episodeRow struct {
	EpisodeID       string         `db:"episode_id"`
	TaskType        string         `db:"task_type"`
	TaskDescription string         `db:"task_description"`
	Context         string         `db:"context"`
	StartTime       int64          `db:"start_time"`
	EndTime         sql.NullInt64  `db:"end_time"`
	Steps           string         `db:"steps"`
	Outcome         sql.NullString `db:"outcome"`
	Reward          sql.NullString `db:"reward"`
	Reflection      sql.NullString `db:"reflection"`
	Patterns        string         `db:"patterns"`
	AppliedPatterns string         `db:"applied_patterns"`
	Tags            string         `db:"tags"`
	Metadata        string         `db:"metadata"`
	Domain          string         `db:"domain"`
	Language        string         `db:"language"`
	ArchivedAt      sql.NullInt64  `db:"archived_at"`
}

const episodeColumns = `episode_id, task_type, task_description, context,
	start_time, end_time, steps, outcome, reward, reflection,
	patterns, applied_patterns, tags, metadata, domain, language, archived_at`

const upsertEpisodeSQL = `
INSERT INTO episodes (` + episodeColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (episode_id) DO UPDATE SET
	task_type = excluded.task_type,
	task_description = excluded.task_description,
	context = excluded.context,
	start_time = excluded.start_time,
	end_time = excluded.end_time,
	steps = excluded.steps,
	outcome = excluded.outcome,
	reward = excluded.reward,
	reflection = excluded.reflection,
	patterns = excluded.patterns,
	applied_patterns = excluded.applied_patterns,
	tags = excluded.tags,
	metadata = excluded.metadata,
	domain = excluded.domain,
	language = excluded.language,
	archived_at = excluded.archived_at`

func episodeToRow(e *models.Episode) (*episodeRow, error) {
	row := &episodeRow{
		EpisodeID:       e.EpisodeID.String(),
		TaskType:        string(e.TaskType),
		TaskDescription: e.TaskDescription,
		StartTime:       e.StartTime.UTC().UnixNano(),
		Domain:          e.Context.Domain,
		Language:        e.Context.Language,
	}
	if e.EndTime != nil {
		row.EndTime = sql.NullInt64{Int64: e.EndTime.UTC().UnixNano(), Valid: true}
	}
	if e.ArchivedAt != nil {
		row.ArchivedAt = sql.NullInt64{Int64: e.ArchivedAt.UTC().UnixNano(), Valid: true}
	}

	marshal := func(v interface{}, dest *string) error {
		data, err := models.MarshalEntity(v)
		if err != nil {
			return err
		}
		*dest = string(data)
		return nil
	}
	marshalNullable := func(v interface{}, dest *sql.NullString) error {
		data, err := models.MarshalEntity(v)
		if err != nil {
			return err
		}
		*dest = sql.NullString{String: string(data), Valid: true}
		return nil
	}

	if err := marshal(e.Context, &row.Context); err != nil {
		return nil, err
	}
	steps := e.Steps
	if steps == nil {
		steps = []models.ExecutionStep{}
	}
	if err := marshal(steps, &row.Steps); err != nil {
		return nil, err
	}
	patternIDs := e.PatternIDs
	if patternIDs == nil {
		patternIDs = []uuid.UUID{}
	}
	if err := marshal(patternIDs, &row.Patterns); err != nil {
		return nil, err
	}
	applied := e.AppliedPatterns
	if applied == nil {
		applied = []models.AppliedPattern{}
	}
	if err := marshal(applied, &row.AppliedPatterns); err != nil {
		return nil, err
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	if err := marshal(tags, &row.Tags); err != nil {
		return nil, err
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if err := marshal(metadata, &row.Metadata); err != nil {
		return nil, err
	}
	if e.Outcome != nil {
		if err := marshalNullable(e.Outcome, &row.Outcome); err != nil {
			return nil, err
		}
	}
	if e.Reward != nil {
		if err := marshalNullable(e.Reward, &row.Reward); err != nil {
			return nil, err
		}
	}
	if e.Reflection != nil {
		if err := marshalNullable(e.Reflection, &row.Reflection); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func rowToEpisode(row *episodeRow) (*models.Episode, error) {
	id, err := uuid.Parse(row.EpisodeID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "invalid episode id in row")
	}
	e := &models.Episode{
		EpisodeID:       id,
		TaskType:        models.TaskType(row.TaskType),
		TaskDescription: row.TaskDescription,
		StartTime:       time.Unix(0, row.StartTime).UTC(),
	}
	if row.EndTime.Valid {
		end := time.Unix(0, row.EndTime.Int64).UTC()
		e.EndTime = &end
	}
	if row.ArchivedAt.Valid {
		archived := time.Unix(0, row.ArchivedAt.Int64).UTC()
		e.ArchivedAt = &archived
	}
	if err := models.UnmarshalEntity([]byte(row.Context), &e.Context); err != nil {
		return nil, err
	}
	if err := models.UnmarshalEntity([]byte(row.Steps), &e.Steps); err != nil {
		return nil, err
	}
	if err := models.UnmarshalEntity([]byte(row.Patterns), &e.PatternIDs); err != nil {
		return nil, err
	}
	if err := models.UnmarshalEntity([]byte(row.AppliedPatterns), &e.AppliedPatterns); err != nil {
		return nil, err
	}
	if err := models.UnmarshalEntity([]byte(row.Tags), &e.Tags); err != nil {
		return nil, err
	}
	if err := models.UnmarshalEntity([]byte(row.Metadata), &e.Metadata); err != nil {
		return nil, err
	}
	if row.Outcome.Valid {
		if err := models.UnmarshalEntity([]byte(row.Outcome.String), &e.Outcome); err != nil {
			return nil, err
		}
	}
	if row.Reward.Valid {
		if err := models.UnmarshalEntity([]byte(row.Reward.String), &e.Reward); err != nil {
			return nil, err
		}
	}
	if row.Reflection.Valid {
		if err := models.UnmarshalEntity([]byte(row.Reflection.String), &e.Reflection); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func upsertEpisodeTx(ctx context.Context, tx *sqlx.Tx, row *episodeRow) error {
	_, err := tx.ExecContext(ctx, upsertEpisodeSQL,
		row.EpisodeID, row.TaskType, row.TaskDescription, row.Context,
		row.StartTime, row.EndTime, row.Steps, row.Outcome, row.Reward,
		row.Reflection, row.Patterns, row.AppliedPatterns, row.Tags,
		row.Metadata, row.Domain, row.Language, row.ArchivedAt)
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to upsert episode")
	}
	return nil
}

// StoreEpisode persists an episode, replacing any previous version with the
// same id.
func (s *Storage) StoreEpisode(ctx context.Context, e *models.Episode) error {
	if err := e.Validate(); err != nil {
		return err
	}
	row, err := episodeToRow(e)
	if err != nil {
		return err
	}
	return s.withRetry(ctx, "store_episode", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, upsertEpisodeSQL,
			row.EpisodeID, row.TaskType, row.TaskDescription, row.Context,
			row.StartTime, row.EndTime, row.Steps, row.Outcome, row.Reward,
			row.Reflection, row.Patterns, row.AppliedPatterns, row.Tags,
			row.Metadata, row.Domain, row.Language, row.ArchivedAt)
		if err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to upsert episode")
		}
		return nil
	})
}

// BatchReport summarizes a batch store: how many rows were written and
// which ones were rejected.
type BatchReport struct {
	Stored int          `json:"stored"`
	Failed []BatchError `json:"failed,omitempty"`
}

// BatchError identifies a rejected batch member.
type BatchError struct {
	EpisodeID uuid.UUID `json:"episode_id"`
	Reason    string    `json:"reason"`
}

// StoreEpisodesBatch stores many episodes. Rows that fail validation are
// reported in Failed and skipped; the remaining rows are written in one
// transaction, so a storage-level failure leaves none of them behind.
func (s *Storage) StoreEpisodesBatch(ctx context.Context, episodes []*models.Episode) (BatchReport, error) {
	report := BatchReport{}
	rows := make([]*episodeRow, 0, len(episodes))
	for _, e := range episodes {
		if err := e.Validate(); err != nil {
			report.Failed = append(report.Failed, BatchError{EpisodeID: e.EpisodeID, Reason: err.Error()})
			continue
		}
		row, err := episodeToRow(e)
		if err != nil {
			report.Failed = append(report.Failed, BatchError{EpisodeID: e.EpisodeID, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return report, nil
	}

	err := s.withRetry(ctx, "store_episodes_batch", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			for _, row := range rows {
				if err := upsertEpisodeTx(ctx, tx, row); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return BatchReport{}, err
	}
	report.Stored = len(rows)
	return report, nil
}

// GetEpisode fetches an episode by id, NotFound when absent.
func (s *Storage) GetEpisode(ctx context.Context, id uuid.UUID) (*models.Episode, error) {
	var row episodeRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+episodeColumns+` FROM episodes WHERE episode_id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.KindNotFound, "episode %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to get episode")
	}
	return rowToEpisode(&row)
}

// GetEpisodesByIDs fetches the episodes whose ids exist; missing ids are
// silently omitted.
func (s *Storage) GetEpisodesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Episode, error) {
	if len(ids) == 0 {
		return []*models.Episode{}, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	query, args, err := sqlx.In(
		`SELECT `+episodeColumns+` FROM episodes WHERE episode_id IN (?) ORDER BY start_time DESC`, strIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to build id query")
	}
	var rows []episodeRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to get episodes by ids")
	}
	return rowsToEpisodes(rows)
}

// EpisodeFilter is a composable filter for episode listings. Every value is
// bound through placeholders.
type EpisodeFilter struct {
	Domains         []string
	TaskTypes       []models.TaskType
	Tags            []string
	Since           *time.Time
	Until           *time.Time
	SuccessOnly     bool
	IncludeArchived bool
}

// ListEpisodesFiltered lists episodes matching the filter, newest first.
func (s *Storage) ListEpisodesFiltered(ctx context.Context, filter EpisodeFilter, limit, offset int) ([]*models.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE 1=1`
	var args []interface{}

	if len(filter.Domains) > 0 {
		inQuery, inArgs, err := sqlx.In(` AND domain IN (?)`, filter.Domains)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindStorage, "failed to build domain filter")
		}
		query += inQuery
		args = append(args, inArgs...)
	}
	if len(filter.TaskTypes) > 0 {
		types := make([]string, len(filter.TaskTypes))
		for i, t := range filter.TaskTypes {
			types[i] = string(t)
		}
		inQuery, inArgs, err := sqlx.In(` AND task_type IN (?)`, types)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindStorage, "failed to build task type filter")
		}
		query += inQuery
		args = append(args, inArgs...)
	}
	for _, tag := range filter.Tags {
		query += ` AND EXISTS (SELECT 1 FROM json_each(episodes.tags) WHERE json_each.value = ?)`
		args = append(args, tag)
	}
	if filter.Since != nil {
		query += ` AND start_time >= ?`
		args = append(args, filter.Since.UTC().UnixNano())
	}
	if filter.Until != nil {
		query += ` AND start_time <= ?`
		args = append(args, filter.Until.UTC().UnixNano())
	}
	if filter.SuccessOnly {
		query += ` AND json_extract(outcome, '$.status') = ?`
		args = append(args, string(models.OutcomeSuccess))
	}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}

	query += ` ORDER BY start_time DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
		if offset > 0 {
			query += ` OFFSET ?`
			args = append(args, offset)
		}
	}

	var rows []episodeRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to list episodes")
	}
	return rowsToEpisodes(rows)
}

// QueryEpisodesByMetadata finds episodes whose metadata carries the given
// key/value pair, via json_extract on the metadata column.
func (s *Storage) QueryEpisodesByMetadata(ctx context.Context, key, value string) ([]*models.Episode, error) {
	var rows []episodeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+episodeColumns+` FROM episodes
		 WHERE json_extract(metadata, '$.' || ?) = ?
		 ORDER BY start_time DESC`, key, value)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to query episodes by metadata")
	}
	return rowsToEpisodes(rows)
}

// QueryEpisodesSince lists episodes started at or after the given time,
// newest first. The synchronizer drives its cycles with this.
func (s *Storage) QueryEpisodesSince(ctx context.Context, since time.Time) ([]*models.Episode, error) {
	var rows []episodeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+episodeColumns+` FROM episodes
		 WHERE start_time >= ? ORDER BY start_time DESC`, since.UTC().UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to query episodes since")
	}
	return rowsToEpisodes(rows)
}

// DeleteEpisode removes an episode and cascades to its summary, embeddings,
// and relationships.
func (s *Storage) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "delete_episode", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			return deleteEpisodeTx(ctx, tx, id)
		})
	})
}

func deleteEpisodeTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	idStr := id.String()
	statements := []string{
		`DELETE FROM episode_relationships WHERE from_id = ? OR to_id = ?`,
		`DELETE FROM episode_summaries WHERE episode_id = ?`,
	}
	if _, err := tx.ExecContext(ctx, statements[0], idStr, idStr); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to delete relationships")
	}
	if _, err := tx.ExecContext(ctx, statements[1], idStr); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to delete summary")
	}
	for _, dim := range models.AllDimensions() {
		stmt := `DELETE FROM embeddings_` + dim.TableSuffix() + ` WHERE owner_id = ?`
		if _, err := tx.ExecContext(ctx, stmt, idStr); err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to delete embeddings")
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE episode_id = ?`, idStr); err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to delete episode")
	}
	return nil
}

// ArchiveEpisode stamps an episode archived; archived episodes drop out of
// default listings but stay retrievable by id.
func (s *Storage) ArchiveEpisode(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET archived_at = ? WHERE episode_id = ? AND archived_at IS NULL`,
		time.Now().UTC().UnixNano(), id.String())
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to archive episode")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.GetContext(ctx, &exists,
			`SELECT COUNT(*) FROM episodes WHERE episode_id = ?`, id.String()); err == nil && exists == 0 {
			return errors.Newf(errors.KindNotFound, "episode %s not found", id)
		}
	}
	return nil
}

// UnarchiveEpisode clears the archived marker.
func (s *Storage) UnarchiveEpisode(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET archived_at = NULL WHERE episode_id = ?`, id.String())
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to unarchive episode")
	}
	return nil
}

// capacityCandidate carries just enough of an episode to score it for
// eviction without decoding steps.
type capacityCandidate struct {
	EpisodeID  string         `db:"episode_id"`
	StartTime  int64          `db:"start_time"`
	EndTime    sql.NullInt64  `db:"end_time"`
	Reward     sql.NullString `db:"reward"`
	Reflection sql.NullString `db:"reflection"`
}

// StoreEpisodeWithCapacity inserts an episode under a capacity bound: when
// the store is full, the lowest-relevance episodes are evicted in the same
// transaction as the insert, so the bound holds even across crashes.
func (s *Storage) StoreEpisodeWithCapacity(ctx context.Context, e *models.Episode, maxEpisodes int) error {
	if maxEpisodes <= 0 {
		return errors.New(errors.KindValidation, "max episodes must be positive")
	}
	if err := e.Validate(); err != nil {
		return err
	}
	row, err := episodeToRow(e)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, "store_episode_with_capacity", func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sqlx.Tx) error {
			var count int
			if err := tx.GetContext(ctx, &count,
				`SELECT COUNT(*) FROM episodes WHERE episode_id != ?`, row.EpisodeID); err != nil {
				return errors.Wrap(err, errors.KindStorage, "failed to count episodes")
			}
			if count >= maxEpisodes {
				var candidates []capacityCandidate
				if err := tx.SelectContext(ctx, &candidates,
					`SELECT episode_id, start_time, end_time, reward, reflection
					 FROM episodes WHERE episode_id != ?`, row.EpisodeID); err != nil {
					return errors.Wrap(err, errors.KindStorage, "failed to load eviction candidates")
				}
				scored := make([]capacity.Scored, 0, len(candidates))
				for _, c := range candidates {
					sc, err := candidateScore(c)
					if err != nil {
						return err
					}
					scored = append(scored, sc)
				}
				// Evict enough to leave room for the incoming row.
				for _, victim := range capacity.LowestRelevance(scored, count-maxEpisodes+1) {
					if err := deleteEpisodeTx(ctx, tx, victim); err != nil {
						return err
					}
				}
			}
			return upsertEpisodeTx(ctx, tx, row)
		})
	})
}

func candidateScore(c capacityCandidate) (capacity.Scored, error) {
	id, err := uuid.Parse(c.EpisodeID)
	if err != nil {
		return capacity.Scored{}, errors.Wrap(err, errors.KindSerialization, "invalid episode id in row")
	}
	e := &models.Episode{EpisodeID: id, StartTime: time.Unix(0, c.StartTime).UTC()}
	if c.EndTime.Valid {
		end := time.Unix(0, c.EndTime.Int64).UTC()
		e.EndTime = &end
	}
	if c.Reward.Valid {
		if err := json.Unmarshal([]byte(c.Reward.String), &e.Reward); err != nil {
			return capacity.Scored{}, errors.Wrap(err, errors.KindSerialization, "invalid reward in row")
		}
	}
	if c.Reflection.Valid {
		if err := json.Unmarshal([]byte(c.Reflection.String), &e.Reflection); err != nil {
			return capacity.Scored{}, errors.Wrap(err, errors.KindSerialization, "invalid reflection in row")
		}
	}
	return capacity.Scored{ID: id, Relevance: capacity.RelevanceScore(e, time.Now().UTC())}, nil
}

// CountEpisodes returns the number of stored episodes.
func (s *Storage) CountEpisodes(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM episodes`); err != nil {
		return 0, errors.Wrap(err, errors.KindStorage, "failed to count episodes")
	}
	return count, nil
}

func rowsToEpisodes(rows []episodeRow) ([]*models.Episode, error) {
	episodes := make([]*models.Episode, 0, len(rows))
	for i := range rows {
		e, err := rowToEpisode(&rows[i])
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, nil
}
