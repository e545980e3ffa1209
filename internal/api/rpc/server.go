package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/cohesivestack/valgo"

	"github.com/engramlabs/engram/internal/service"
	"github.com/engramlabs/engram/pkg/types"
)

// opHandler executes one operation against decoded parameters.
type opHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Server routes JSON-RPC requests to the memory service. The operation
// table is fixed at construction; there is no dynamic registration.
type Server struct {
	svc    *service.MemoryService
	logger *log.Logger
	ops    map[string]opHandler
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates an RPC server over the given memory service. The
// service may be nil; every operation then fails with the
// not-initialized error code.
func NewServer(svc *service.MemoryService, opts ...ServerOption) *Server {
	s := &Server{
		svc:    svc,
		logger: log.Default().With("component", "rpc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ops = map[string]opHandler{
		"create_memory":       s.handleCreateMemory,
		"search_memories":     s.handleSearchMemories,
		"get_memory":          s.handleGetMemory,
		"boost_memory":        s.handleBoostMemory,
		"pin_memory":          s.handlePinMemory,
		"delete_memory":       s.handleDeleteMemory,
		"create_relation":     s.handleCreateRelation,
		"get_relations":       s.handleGetRelations,
		"get_recent_memories": s.handleGetRecentMemories,
		"apply_decay":         s.handleApplyDecay,
		"get_capabilities":    s.handleGetCapabilities,
	}
	return s
}

// Operations returns the sorted names of all supported operations.
func (s *Server) Operations() []string {
	names := make([]string, 0, len(s.ops))
	for name := range s.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleRequest processes a single raw JSON-RPC request frame and
// returns the serialized response frame.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "parse error", nil)
	}
	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "invalid JSON-RPC version", nil)
	}

	handler, ok := s.ops[req.Method]
	if !ok {
		return s.errorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("unknown operation %q", req.Method), nil)
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		s.logger.Warn("operation failed", "method", req.Method, "err", err)
		code, data := classifyError(err)
		return s.errorResponse(req.ID, code, Redact(err.Error()), data)
	}
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// classifyError maps service errors onto JSON-RPC error codes.
func classifyError(err error) (int, interface{}) {
	var vErr *types.ValidationError
	if errors.As(err, &vErr) {
		return ErrCodeInvalidParams, map[string]string{"field": vErr.Field}
	}
	if errors.Is(err, service.ErrNotInitialized) {
		return ErrCodeNotInitialized, nil
	}
	return ErrCodeInternalError, nil
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	})
}

// decodeParams unmarshals params into the typed args struct. Absent
// params decode as the zero value.
func decodeParams(params json.RawMessage, into interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, into); err != nil {
		return types.NewValidationError("params", "malformed parameters")
	}
	return nil
}

// firstValidationError converts a failed valgo validation into the
// field-carrying error the response layer understands.
func firstValidationError(val *valgo.Validation) error {
	for field, fieldErr := range val.Errors() {
		message := "is invalid"
		if msgs := fieldErr.Messages(); len(msgs) > 0 {
			message = msgs[0]
		}
		return types.NewValidationError(field, "%s", message)
	}
	return types.NewValidationError("params", "invalid parameters")
}

func (s *Server) handleCreateMemory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args CreateMemoryArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	val := valgo.Is(
		valgo.String(args.Content, "content").Not().Blank(),
		valgo.String(string(args.Type), "type").Not().Blank(),
	)
	if !val.Valid() {
		return nil, firstValidationError(val)
	}
	return s.svc.CreateMemory(ctx, service.CreateParams{
		Type:       args.Type,
		Scope:      args.Scope,
		Source:     args.Source,
		Content:    args.Content,
		Context:    args.Context,
		Tags:       args.Tags,
		Project:    args.Project,
		Importance: args.Importance,
		Pinned:     args.Pinned,
		Supersedes: args.Supersedes,
	})
}

func (s *Server) handleSearchMemories(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args SearchMemoriesArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	results, err := s.svc.SearchMemories(ctx, service.SearchParams{
		Query:             args.Query,
		Types:             args.Types,
		Scopes:            args.Scopes,
		Project:           args.Project,
		Tags:              args.Tags,
		Limit:             args.Limit,
		MinImportance:     args.MinImportance,
		IncludeSuperseded: args.IncludeSuperseded,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]SearchResultEntry, len(results))
	for i, r := range results {
		entries[i] = SearchResultEntry{
			Memory:       r.Memory,
			Score:        r.Score,
			MatchType:    r.MatchType,
			SupersededBy: r.SupersededBy,
		}
	}
	return SearchMemoriesResult{Results: entries, Count: len(entries)}, nil
}

func (s *Server) handleGetMemory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args MemoryIDArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if val := valgo.Is(valgo.String(args.ID, "id").Not().Blank()); !val.Valid() {
		return nil, firstValidationError(val)
	}
	memory, err := s.svc.GetMemory(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return GetMemoryResult{Memory: memory}, nil
}

func (s *Server) handleBoostMemory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args BoostMemoryArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if val := valgo.Is(valgo.String(args.ID, "id").Not().Blank()); !val.Valid() {
		return nil, firstValidationError(val)
	}
	if err := s.svc.BoostMemory(ctx, args.ID, args.Delta); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handlePinMemory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args PinMemoryArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if val := valgo.Is(valgo.String(args.ID, "id").Not().Blank()); !val.Valid() {
		return nil, firstValidationError(val)
	}
	if err := s.svc.PinMemory(ctx, args.ID, args.Pinned); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleDeleteMemory(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args MemoryIDArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if val := valgo.Is(valgo.String(args.ID, "id").Not().Blank()); !val.Valid() {
		return nil, firstValidationError(val)
	}
	deleted, err := s.svc.DeleteMemory(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return DeleteMemoryResult{Deleted: deleted}, nil
}

func (s *Server) handleCreateRelation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args CreateRelationArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	val := valgo.Is(
		valgo.String(args.FromID, "from_id").Not().Blank(),
		valgo.String(args.ToID, "to_id").Not().Blank(),
		valgo.String(string(args.Type), "type").Not().Blank(),
	)
	if !val.Valid() {
		return nil, firstValidationError(val)
	}
	if err := s.svc.CreateRelation(ctx, args.FromID, args.ToID, args.Type); err != nil {
		return nil, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleGetRelations(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args GetRelationsArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	if val := valgo.Is(valgo.String(args.FromID, "from_id").Not().Blank()); !val.Valid() {
		return nil, firstValidationError(val)
	}
	relations, err := s.svc.GetRelations(ctx, args.FromID)
	if err != nil {
		return nil, err
	}
	if relations == nil {
		relations = []types.Relation{}
	}
	return GetRelationsResult{Relations: relations}, nil
}

func (s *Server) handleGetRecentMemories(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var args GetRecentMemoriesArgs
	if err := decodeParams(params, &args); err != nil {
		return nil, err
	}
	memories, err := s.svc.GetRecentMemories(ctx, args.Limit, args.Project)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	return GetRecentMemoriesResult{Memories: memories}, nil
}

func (s *Server) handleApplyDecay(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	changed, err := s.svc.ApplyDecay(ctx)
	if err != nil {
		return nil, err
	}
	return ApplyDecayResult{Changed: changed}, nil
}

func (s *Server) handleGetCapabilities(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	result := CapabilitiesResult{
		SemanticSearch: s.svc.HasSemanticSearch(ctx),
		Operations:     s.Operations(),
	}
	if result.SemanticSearch {
		result.EmbeddingModel = s.svc.EmbeddingModel()
	}
	return result, nil
}
