package database

import (
	"context"
	"fmt"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

// Schema creation is idempotent: every statement is CREATE ... IF NOT
// EXISTS, so InitializeSchema is safe to call on every startup.

const createEpisodesTable = `
CREATE TABLE IF NOT EXISTS episodes (
	episode_id       TEXT PRIMARY KEY,
	task_type        TEXT NOT NULL,
	task_description TEXT NOT NULL,
	context          TEXT NOT NULL,
	start_time       INTEGER NOT NULL,
	end_time         INTEGER,
	steps            TEXT NOT NULL DEFAULT '[]',
	outcome          TEXT,
	reward           TEXT,
	reflection       TEXT,
	patterns         TEXT NOT NULL DEFAULT '[]',
	applied_patterns TEXT NOT NULL DEFAULT '[]',
	tags             TEXT NOT NULL DEFAULT '[]',
	metadata         TEXT NOT NULL DEFAULT '{}',
	domain           TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL DEFAULT '',
	archived_at      INTEGER
)`

const createPatternsTable = `
CREATE TABLE IF NOT EXISTS patterns (
	pattern_id    TEXT PRIMARY KEY,
	pattern_type  TEXT NOT NULL,
	payload       TEXT NOT NULL,
	domain        TEXT NOT NULL DEFAULT '',
	success_rate  REAL NOT NULL DEFAULT 0,
	effectiveness TEXT NOT NULL DEFAULT '{}'
)`

const createHeuristicsTable = `
CREATE TABLE IF NOT EXISTS heuristics (
	heuristic_id TEXT PRIMARY KEY,
	condition    TEXT NOT NULL,
	action       TEXT NOT NULL,
	confidence   REAL NOT NULL DEFAULT 0,
	evidence     TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
)`

const createSummariesTable = `
CREATE TABLE IF NOT EXISTS episode_summaries (
	episode_id        TEXT PRIMARY KEY REFERENCES episodes(episode_id) ON DELETE CASCADE,
	summary_text      TEXT NOT NULL,
	key_concepts      TEXT NOT NULL DEFAULT '[]',
	key_steps         TEXT NOT NULL DEFAULT '[]',
	summary_embedding BLOB
)`

const createRelationshipsTable = `
CREATE TABLE IF NOT EXISTS episode_relationships (
	id         TEXT PRIMARY KEY,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	rel_type   TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
)`

// embeddingsTableTemplate creates one dimension-partitioned store. Keeping
// dimensions in disjoint physical tables lets each carry its own indexes
// and keeps unrelated models segregated.
const embeddingsTableTemplate = `
CREATE TABLE IF NOT EXISTS embeddings_%s (
	owner_id   TEXT PRIMARY KEY,
	owner_kind TEXT NOT NULL,
	embedding  BLOB NOT NULL
)`

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_episodes_task_type ON episodes(task_type)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_start_time ON episodes(start_time)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_domain ON episodes(domain)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_domain ON patterns(domain)`,
	`CREATE INDEX IF NOT EXISTS idx_heuristics_confidence ON heuristics(confidence)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_from ON episode_relationships(from_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_to ON episode_relationships(to_id)`,
}

// InitializeSchema creates tables and indexes if they do not exist.
// Safe to call multiple times.
func (s *Storage) InitializeSchema(ctx context.Context) error {
	s.logger.Info("Initializing durable tier schema", nil)

	statements := []string{
		createEpisodesTable,
		createPatternsTable,
		createHeuristicsTable,
		createSummariesTable,
		createRelationshipsTable,
	}
	for _, dim := range models.AllDimensions() {
		statements = append(statements, fmt.Sprintf(embeddingsTableTemplate, dim.TableSuffix()))
		statements = append(statements, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_embeddings_%s_kind ON embeddings_%s(owner_kind)`,
			dim.TableSuffix(), dim.TableSuffix()))
	}
	statements = append(statements, schemaIndexes...)

	for _, stmt := range statements {
		if err := s.execWithRetry(ctx, stmt); err != nil {
			return err
		}
	}

	s.logger.Info("Schema initialization complete", nil)
	return nil
}
