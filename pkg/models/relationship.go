package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/memory-engine/pkg/errors"
)

// RelationshipType enumerates the directed edge kinds between episodes.
type RelationshipType string

const (
	// RelParentChild links a parent episode to a child
	RelParentChild RelationshipType = "parent_child"
	// RelDependsOn links an episode to one it depends on
	RelDependsOn RelationshipType = "depends_on"
	// RelFollows links an episode to one it follows in time
	RelFollows RelationshipType = "follows"
	// RelRelatedTo links two loosely related episodes
	RelRelatedTo RelationshipType = "related_to"
	// RelBlocks links an episode to one it blocks
	RelBlocks RelationshipType = "blocks"
	// RelDuplicates links duplicate episodes
	RelDuplicates RelationshipType = "duplicates"
	// RelReferences links an episode to one it references
	RelReferences RelationshipType = "references"
)

// Valid reports whether the relationship type is known.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelParentChild, RelDependsOn, RelFollows, RelRelatedTo,
		RelBlocks, RelDuplicates, RelReferences:
		return true
	}
	return false
}

// RequiresAcyclic reports whether edges of this type must keep the
// relationship graph acyclic.
func (t RelationshipType) RequiresAcyclic() bool {
	switch t {
	case RelParentChild, RelDependsOn, RelBlocks:
		return true
	}
	return false
}

// RelationshipMetadata annotates an edge.
type RelationshipMetadata struct {
	Reason    string    `json:"reason,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EpisodeRelationship is a directed edge between two episodes.
type EpisodeRelationship struct {
	ID       uuid.UUID            `json:"id"`
	FromID   uuid.UUID            `json:"from_id"`
	ToID     uuid.UUID            `json:"to_id"`
	Type     RelationshipType     `json:"type"`
	Metadata RelationshipMetadata `json:"metadata"`
}

// NewRelationship creates a directed edge from one episode to another.
func NewRelationship(fromID, toID uuid.UUID, relType RelationshipType, metadata RelationshipMetadata) *EpisodeRelationship {
	if metadata.CreatedAt.IsZero() {
		metadata.CreatedAt = time.Now().UTC()
	}
	return &EpisodeRelationship{
		ID:       uuid.New(),
		FromID:   fromID,
		ToID:     toID,
		Type:     relType,
		Metadata: metadata,
	}
}

// Validate checks the relationship's structural invariants.
func (r *EpisodeRelationship) Validate() error {
	if r.FromID == uuid.Nil || r.ToID == uuid.Nil {
		return errors.New(errors.KindValidation, "relationship endpoints must not be nil")
	}
	if r.FromID == r.ToID {
		return errors.New(errors.KindValidation, "relationship must not be a self-loop")
	}
	if !r.Type.Valid() {
		return errors.Newf(errors.KindValidation, "unknown relationship type %q", r.Type)
	}
	if r.Metadata.Priority < 0 || r.Metadata.Priority > 10 {
		return errors.Newf(errors.KindValidation, "priority %d out of range 0-10", r.Metadata.Priority)
	}
	return nil
}
