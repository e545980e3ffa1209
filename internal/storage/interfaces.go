// Package storage defines the durable persistence contract for the Engram
// memory system: memories, relations, embeddings, and access/decay
// bookkeeping. Backends implement MemoryStore independently; the sqlite
// and postgres subpackages provide the two supported engines.
package storage

import (
	"context"

	"github.com/engramlabs/engram/pkg/types"
)

// MemoryStore provides durable CRUD for memories, relations, and
// embeddings, plus access and decay bookkeeping.
type MemoryStore interface {
	// CreateMemory persists a new memory from the given spec, assigning a
	// generated ID, creation timestamps, and a zero access count.
	CreateMemory(ctx context.Context, spec CreateSpec) (*types.Memory, error)

	// GetMemory retrieves a memory by ID with no side effects.
	// Returns (nil, nil) when the memory does not exist.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// SearchMemories returns an unranked candidate list matching all
	// supplied filter dimensions. Superseded memories are excluded unless
	// filter.IncludeSuperseded is set.
	SearchMemories(ctx context.Context, filter SearchFilter) ([]*types.Memory, error)

	// RecordAccess increments access_count and updates last_accessed_at.
	// Side effect only; unknown IDs are a no-op.
	RecordAccess(ctx context.Context, id string) error

	// BoostImportance adds amount to the memory's importance, clamped to
	// [0,1]. Unknown IDs are a no-op, not an error.
	BoostImportance(ctx context.Context, id string, amount float64) error

	// SetPinned sets the pinned flag. Unknown IDs are a no-op.
	SetPinned(ctx context.Context, id string, pinned bool) error

	// DeleteMemory removes the memory and its owned embedding. It reports
	// whether the memory previously existed.
	DeleteMemory(ctx context.Context, id string) (bool, error)

	// CreateRelation appends a new directed relation. Append-only; no
	// de-duplication is performed, and dangling references are tolerated.
	CreateRelation(ctx context.Context, fromID, toID string, relType types.RelationType) error

	// GetRelations returns all relations whose source is the given ID.
	GetRelations(ctx context.Context, id string) ([]types.Relation, error)

	// GetSupersededBy returns the from_id of the supersedes relation whose
	// to_id is the given ID, or "" when the memory is not superseded.
	GetSupersededBy(ctx context.Context, id string) (string, error)

	// StoreEmbedding upserts the embedding for a memory. At most one
	// embedding exists per memory; regeneration overwrites the prior vector.
	StoreEmbedding(ctx context.Context, memoryID string, vector []float32, model string) error

	// GetAllEmbeddings returns the stored vector for every memory that has one.
	GetAllEmbeddings(ctx context.Context) ([]StoredEmbedding, error)

	// GetRecentMemories returns the most recently updated memories. When
	// project is non-empty, results are restricted to that project plus
	// globally scoped memories.
	GetRecentMemories(ctx context.Context, limit int, project string) ([]*types.Memory, error)

	// ApplyDecay reduces importance for every non-pinned memory according
	// to the store's decay policy. Returns the count of memories changed.
	ApplyDecay(ctx context.Context) (int, error)

	// Close releases underlying resources. Idempotent.
	Close() error
}
