// Package types defines the core domain types for the Engram memory system.
// Memories are the atomic units of durable agent knowledge; relations link
// them into a soft-supersession graph.
package types

import "time"

// MemoryType classifies what kind of fact a memory records.
type MemoryType string

// Memory types.
const (
	TypeInsight    MemoryType = "insight"
	TypeGotcha     MemoryType = "gotcha"
	TypePreference MemoryType = "preference"
	TypePattern    MemoryType = "pattern"
	TypeCapability MemoryType = "capability"
	TypeStatus     MemoryType = "status"
)

// MemoryScope is the visibility boundary of a memory.
type MemoryScope string

// Memory scopes.
const (
	ScopePrivate MemoryScope = "private"
	ScopeProject MemoryScope = "project"
	ScopeGlobal  MemoryScope = "global"
)

// MemorySource records the provenance of a memory.
type MemorySource string

// Memory sources.
const (
	SourceUserStated  MemorySource = "user_stated"
	SourceAICorrected MemorySource = "ai_corrected"
	SourceAIInferred  MemorySource = "ai_inferred"
)

// Importance defaults and bounds.
const (
	DefaultImportance = 0.5
	MinImportance     = 0.0
	MaxImportance     = 1.0
)

// Memory is a single durable fact recorded by the system.
type Memory struct {
	ID             string       `json:"id"`
	Type           MemoryType   `json:"type"`
	Scope          MemoryScope  `json:"scope"`
	Source         MemorySource `json:"source"`
	Content        string       `json:"content"`
	Context        string       `json:"context,omitempty"`
	Tags           []string     `json:"tags,omitempty"`
	Project        string       `json:"project,omitempty"`
	Importance     float64      `json:"importance"`
	Pinned         bool         `json:"pinned"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastAccessedAt *time.Time   `json:"last_accessed_at,omitempty"`
	AccessCount    int          `json:"access_count"`
}

// ValidType reports whether t is one of the six known memory types.
func ValidType(t MemoryType) bool {
	switch t {
	case TypeInsight, TypeGotcha, TypePreference, TypePattern, TypeCapability, TypeStatus:
		return true
	}
	return false
}

// ValidScope reports whether s is a known scope.
func ValidScope(s MemoryScope) bool {
	switch s {
	case ScopePrivate, ScopeProject, ScopeGlobal:
		return true
	}
	return false
}

// ValidSource reports whether s is a known provenance value.
func ValidSource(s MemorySource) bool {
	switch s {
	case SourceUserStated, SourceAICorrected, SourceAIInferred:
		return true
	}
	return false
}

// ClampImportance forces v into the [0,1] invariant range.
func ClampImportance(v float64) float64 {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

// ScopePolicy maps memory types to the scope applied when the caller does
// not supply one. Unknown types fall back to ScopeProject.
type ScopePolicy map[MemoryType]MemoryScope

// DefaultScopePolicy returns the built-in scope defaults. Preferences and
// capabilities describe the user or the agent itself and travel across
// projects; the rest default to project visibility.
func DefaultScopePolicy() ScopePolicy {
	return ScopePolicy{
		TypeInsight:    ScopeProject,
		TypeGotcha:     ScopeProject,
		TypePreference: ScopeGlobal,
		TypePattern:    ScopeProject,
		TypeCapability: ScopeGlobal,
		TypeStatus:     ScopeProject,
	}
}

// Resolve returns the default scope for the given type.
func (p ScopePolicy) Resolve(t MemoryType) MemoryScope {
	if s, ok := p[t]; ok {
		return s
	}
	return ScopeProject
}
