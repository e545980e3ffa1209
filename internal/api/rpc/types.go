// Package rpc exposes the memory service over line-delimited JSON-RPC
// 2.0. The operation table is built statically in NewServer; arguments
// are typed structs validated at the boundary, and error messages are
// redacted before they reach the wire.
package rpc

import (
	"encoding/json"

	"github.com/engramlabs/engram/pkg/types"
)

// JSONRPCRequest is a single JSON-RPC 2.0 request frame.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a single JSON-RPC 2.0 response frame.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError carries a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC 2.0 error codes, plus implementation-defined codes in the
// -32000 range.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	// ErrCodeNotInitialized is returned when the service has been closed
	// or was never injected.
	ErrCodeNotInitialized = -32000
)

// CreateMemoryArgs are the arguments for the create_memory operation.
type CreateMemoryArgs struct {
	Type       types.MemoryType   `json:"type"`
	Scope      types.MemoryScope  `json:"scope,omitempty"`
	Source     types.MemorySource `json:"source,omitempty"`
	Content    string             `json:"content"`
	Context    string             `json:"context,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	Project    string             `json:"project,omitempty"`
	Importance *float64           `json:"importance,omitempty"`
	Pinned     bool               `json:"pinned,omitempty"`
	Supersedes string             `json:"supersedes,omitempty"`
}

// SearchMemoriesArgs are the arguments for the search_memories operation.
type SearchMemoriesArgs struct {
	Query             string              `json:"query,omitempty"`
	Types             []types.MemoryType  `json:"types,omitempty"`
	Scopes            []types.MemoryScope `json:"scopes,omitempty"`
	Project           string              `json:"project,omitempty"`
	Tags              []string            `json:"tags,omitempty"`
	Limit             int                 `json:"limit,omitempty"`
	MinImportance     float64             `json:"min_importance,omitempty"`
	IncludeSuperseded bool                `json:"include_superseded,omitempty"`
}

// SearchResultEntry is one ranked search hit.
type SearchResultEntry struct {
	Memory       *types.Memory `json:"memory"`
	Score        float64       `json:"score"`
	MatchType    string        `json:"match_type"`
	SupersededBy string        `json:"superseded_by,omitempty"`
}

// SearchMemoriesResult is the result of the search_memories operation.
type SearchMemoriesResult struct {
	Results []SearchResultEntry `json:"results"`
	Count   int                 `json:"count"`
}

// MemoryIDArgs carry a single memory id (get_memory, delete_memory).
type MemoryIDArgs struct {
	ID string `json:"id"`
}

// GetMemoryResult is the result of the get_memory operation. Memory is
// null when the id is unknown.
type GetMemoryResult struct {
	Memory *types.Memory `json:"memory"`
}

// BoostMemoryArgs are the arguments for the boost_memory operation. An
// omitted delta applies the default boost; an explicit zero is honored.
type BoostMemoryArgs struct {
	ID    string   `json:"id"`
	Delta *float64 `json:"delta,omitempty"`
}

// PinMemoryArgs are the arguments for the pin_memory operation.
type PinMemoryArgs struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
}

// DeleteMemoryResult reports whether the memory existed.
type DeleteMemoryResult struct {
	Deleted bool `json:"deleted"`
}

// CreateRelationArgs are the arguments for the create_relation operation.
type CreateRelationArgs struct {
	FromID string             `json:"from_id"`
	ToID   string             `json:"to_id"`
	Type   types.RelationType `json:"type"`
}

// GetRelationsArgs are the arguments for the get_relations operation.
type GetRelationsArgs struct {
	FromID string `json:"from_id"`
}

// GetRelationsResult lists the outgoing relations of a memory.
type GetRelationsResult struct {
	Relations []types.Relation `json:"relations"`
}

// GetRecentMemoriesArgs are the arguments for the get_recent_memories
// operation.
type GetRecentMemoriesArgs struct {
	Limit   int    `json:"limit,omitempty"`
	Project string `json:"project,omitempty"`
}

// GetRecentMemoriesResult lists the most recently updated memories.
type GetRecentMemoriesResult struct {
	Memories []*types.Memory `json:"memories"`
}

// ApplyDecayResult reports how many memories the decay pass changed.
type ApplyDecayResult struct {
	Changed int `json:"changed"`
}

// CapabilitiesResult describes what this server instance can do.
type CapabilitiesResult struct {
	SemanticSearch bool     `json:"semantic_search"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	Operations     []string `json:"operations"`
}

// OKResult acknowledges a side-effect-only operation.
type OKResult struct {
	OK bool `json:"ok"`
}
