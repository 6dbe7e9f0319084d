package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
	"github.com/developer-mesh/memory-engine/pkg/models"
)

type relationshipRow struct {
	ID        string `db:"id"`
	FromID    string `db:"from_id"`
	ToID      string `db:"to_id"`
	RelType   string `db:"rel_type"`
	Metadata  string `db:"metadata"`
	CreatedAt int64  `db:"created_at"`
}

func rowToRelationship(row *relationshipRow) (*models.EpisodeRelationship, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "invalid relationship id in row")
	}
	fromID, err := uuid.Parse(row.FromID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "invalid from id in row")
	}
	toID, err := uuid.Parse(row.ToID)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "invalid to id in row")
	}
	rel := &models.EpisodeRelationship{
		ID:     id,
		FromID: fromID,
		ToID:   toID,
		Type:   models.RelationshipType(row.RelType),
	}
	if err := models.UnmarshalEntity([]byte(row.Metadata), &rel.Metadata); err != nil {
		return nil, err
	}
	return rel, nil
}

// AddRelationship inserts a directed edge between episodes. Edges of the
// acyclic types (parent_child, depends_on, blocks) are validated with a
// reachability check before insert; a rejected edge carries
// would_create_cycle metadata and the offending cycle path.
func (s *Storage) AddRelationship(ctx context.Context, rel *models.EpisodeRelationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}

	if rel.Type.RequiresAcyclic() {
		cyclePath, err := s.findCycle(ctx, rel.FromID, rel.ToID)
		if err != nil {
			return err
		}
		if cyclePath != nil {
			pathStr := ""
			for i, id := range cyclePath {
				if i > 0 {
					pathStr += " -> "
				}
				pathStr += id.String()
			}
			return errors.Newf(errors.KindValidation,
				"relationship %s -> %s would create a cycle", rel.FromID, rel.ToID).
				WithMetadata("would_create_cycle", "true").
				WithMetadata("cycle_path", pathStr)
		}
	}

	metadata, err := models.MarshalEntity(rel.Metadata)
	if err != nil {
		return err
	}
	createdAt := rel.Metadata.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return s.withRetry(ctx, "add_relationship", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO episode_relationships (id, from_id, to_id, rel_type, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rel.ID.String(), rel.FromID.String(), rel.ToID.String(),
			string(rel.Type), string(metadata), createdAt.UnixNano())
		if err != nil {
			return errors.Wrap(err, errors.KindStorage, "failed to insert relationship")
		}
		return nil
	})
}

// RemoveRelationship deletes an edge by id.
func (s *Storage) RemoveRelationship(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM episode_relationships WHERE id = ?`, id.String())
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "failed to delete relationship")
	}
	return nil
}

// ListRelationships lists edges touching an episode, in either direction.
func (s *Storage) ListRelationships(ctx context.Context, episodeID uuid.UUID) ([]*models.EpisodeRelationship, error) {
	var rows []relationshipRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, from_id, to_id, rel_type, metadata, created_at
		 FROM episode_relationships WHERE from_id = ? OR to_id = ?
		 ORDER BY created_at`, episodeID.String(), episodeID.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to list relationships")
	}
	rels := make([]*models.EpisodeRelationship, 0, len(rows))
	for i := range rows {
		rel, err := rowToRelationship(&rows[i])
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// acyclicAdjacency loads the adjacency map of every acyclic-typed edge.
func (s *Storage) acyclicAdjacency(ctx context.Context) (map[uuid.UUID][]uuid.UUID, error) {
	var rows []relationshipRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, from_id, to_id, rel_type, metadata, created_at
		 FROM episode_relationships
		 WHERE rel_type IN (?, ?, ?)`,
		string(models.RelParentChild), string(models.RelDependsOn), string(models.RelBlocks))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindStorage, "failed to load relationship graph")
	}
	adjacency := make(map[uuid.UUID][]uuid.UUID)
	for i := range rows {
		rel, err := rowToRelationship(&rows[i])
		if err != nil {
			return nil, err
		}
		adjacency[rel.FromID] = append(adjacency[rel.FromID], rel.ToID)
	}
	return adjacency, nil
}

// findCycle checks whether adding from -> to closes a cycle: it searches
// for a path to -> ... -> from over the existing acyclic-typed edges. The
// returned path starts at from and walks the would-be cycle back to from.
func (s *Storage) findCycle(ctx context.Context, from, to uuid.UUID) ([]uuid.UUID, error) {
	adjacency, err := s.acyclicAdjacency(ctx)
	if err != nil {
		return nil, err
	}

	// DFS from `to` looking for `from`.
	type frame struct {
		node uuid.UUID
		path []uuid.UUID
	}
	visited := make(map[uuid.UUID]bool)
	stack := []frame{{node: to, path: []uuid.UUID{to}}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.node == from {
			// Cycle: from -> to -> ... -> from.
			cycle := append([]uuid.UUID{from}, top.path[:len(top.path)-1]...)
			cycle = append(cycle, from)
			return cycle, nil
		}
		if visited[top.node] {
			continue
		}
		visited[top.node] = true
		for _, next := range adjacency[top.node] {
			nextPath := make([]uuid.UUID, len(top.path), len(top.path)+1)
			copy(nextPath, top.path)
			stack = append(stack, frame{node: next, path: append(nextPath, next)})
		}
	}
	return nil, nil
}

// TopologicalOrder orders the given episodes so every episode comes after
// the ones it depends on, considering only acyclic-typed edges among the
// given ids. The acyclic invariant guarantees an order exists.
func (s *Storage) TopologicalOrder(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	adjacency, err := s.acyclicAdjacency(ctx)
	if err != nil {
		return nil, err
	}
	inSet := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	// Kahn's algorithm over the restriction of the graph to ids. An edge
	// from -> to means from depends on to, so to must come first.
	indegree := make(map[uuid.UUID]int, len(ids))
	reverse := make(map[uuid.UUID][]uuid.UUID)
	for _, id := range ids {
		indegree[id] = 0
	}
	for from, tos := range adjacency {
		if !inSet[from] {
			continue
		}
		for _, toID := range tos {
			if !inSet[toID] {
				continue
			}
			indegree[from]++
			reverse[toID] = append(reverse[toID], from)
		}
	}

	// Seed with ids of indegree zero, preserving caller order for
	// determinism among unordered peers.
	var queue []uuid.UUID
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := make([]uuid.UUID, 0, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, id)
		for _, dependent := range reverse[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(ids) {
		return nil, errors.New(errors.KindConflict,
			"relationship graph contains a cycle among the given episodes")
	}
	return ordered, nil
}
