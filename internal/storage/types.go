package storage

import (
	"errors"

	"github.com/engramlabs/engram/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Search limit defaults.
const (
	// DefaultSearchLimit applies when a filter omits its limit.
	DefaultSearchLimit = 10

	// MaxSearchLimit caps any requested limit.
	MaxSearchLimit = 500
)

// CreateSpec carries the fields used to create a new memory. The store
// assigns the ID, timestamps, and zero access count.
type CreateSpec struct {
	Type       types.MemoryType
	Scope      types.MemoryScope
	Source     types.MemorySource
	Content    string
	Context    string
	Tags       []string
	Project    string
	Importance float64
	Pinned     bool
}

// SearchFilter selects unranked candidate memories. Dimensions combine
// with AND semantics; an omitted (zero-valued) dimension is skipped.
// Within the Tags dimension a memory matches if it carries at least one
// of the requested tags.
type SearchFilter struct {
	// Types restricts results to the given memory types.
	Types []types.MemoryType

	// Scopes restricts results to the given visibility scopes.
	Scopes []types.MemoryScope

	// Project restricts results to a single project grouping key.
	Project string

	// Tags restricts results to memories carrying any of these tags.
	Tags []string

	// Limit caps the number of candidates returned (default 10, max 500;
	// the service over-fetches 3x its own limit through this knob).
	Limit int

	// IncludeSuperseded includes memories that are the target of a
	// supersedes relation. By default they are excluded.
	IncludeSuperseded bool
}

// Normalize applies defaults and caps to the filter.
func (f *SearchFilter) Normalize() {
	if f.Limit < 1 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
}

// StoredEmbedding pairs a memory ID with its stored vector.
type StoredEmbedding struct {
	MemoryID string
	Vector   []float32
}
