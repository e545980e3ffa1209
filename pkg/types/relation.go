package types

import "time"

// RelationType classifies a directed edge between two memories.
type RelationType string

// Relation types. A "supersedes" edge soft-replaces its target: the target
// memory persists but is excluded from default search results.
const (
	RelationSupersedes RelationType = "supersedes"
	RelationRelatesTo  RelationType = "relates_to"
	RelationCausedBy   RelationType = "caused_by"
	RelationFixedBy    RelationType = "fixed_by"
	RelationImplements RelationType = "implements"
)

// Relation is a directed edge between two memories.
type Relation struct {
	FromID    string       `json:"from_id"`
	ToID      string       `json:"to_id"`
	Type      RelationType `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
}

// ValidRelationType reports whether t is a known relation type.
func ValidRelationType(t RelationType) bool {
	switch t {
	case RelationSupersedes, RelationRelatesTo, RelationCausedBy, RelationFixedBy, RelationImplements:
		return true
	}
	return false
}
