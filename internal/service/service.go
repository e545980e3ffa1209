// Package service orchestrates memory persistence, embedding, and
// retrieval. MemoryService is the single entry point the dispatch and
// web layers talk to; it owns scoring, graceful degradation to keyword
// search, and event notification.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/engramlabs/engram/internal/embedding"
	"github.com/engramlabs/engram/internal/similarity"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// ErrNotInitialized is returned by every operation after Close, or when
// the dispatch layer was handed a nil service.
var ErrNotInitialized = errors.New("memory service is not initialized")

const (
	// semanticWeight and keywordWeight blend the two similarity signals
	// when an embedding backend is available.
	semanticWeight = 0.7
	keywordWeight  = 0.3

	// overFetchFactor widens the candidate pool before scoring so that
	// importance weighting and similarity cutoffs still leave enough
	// results to fill the requested limit.
	overFetchFactor = 3

	// DefaultBoostDelta is applied when a boost request omits the delta.
	DefaultBoostDelta = 0.1

	// defaultMinSimilarity disables the semantic score cutoff; it only
	// applies when raised via WithMinSimilarity.
	defaultMinSimilarity = 0.0
)

// Event describes a state change broadcast to subscribers.
type Event struct {
	Type     string    `json:"type"`
	MemoryID string    `json:"memory_id,omitempty"`
	Time     time.Time `json:"time"`
}

// Event types emitted by the service.
const (
	EventMemoryCreated = "memory_created"
	EventMemoryDeleted = "memory_deleted"
	EventDecayApplied  = "decay_applied"
)

// EventFunc receives service events. It must not block.
type EventFunc func(Event)

// MemoryService coordinates the store, the embedding provider, and the
// similarity engine. Construct one in main and inject it where needed;
// there is no package-level instance.
type MemoryService struct {
	store         storage.MemoryStore
	provider      embedding.Provider
	logger        *log.Logger
	notify        EventFunc
	scopePolicy   types.ScopePolicy
	minSimilarity float64
	defaultLimit  int
	closed        atomic.Bool
}

// Option customizes a MemoryService.
type Option func(*MemoryService)

// WithLogger sets the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *MemoryService) { s.logger = logger }
}

// WithNotifier sets the event callback. The callback must not block.
func WithNotifier(fn EventFunc) Option {
	return func(s *MemoryService) { s.notify = fn }
}

// WithScopePolicy overrides the default type-to-scope policy table.
func WithScopePolicy(policy types.ScopePolicy) Option {
	return func(s *MemoryService) { s.scopePolicy = policy }
}

// WithMinSimilarity sets the semantic score cutoff for search. Zero,
// the default, disables the cutoff.
func WithMinSimilarity(min float64) Option {
	return func(s *MemoryService) { s.minSimilarity = min }
}

// WithDefaultLimit sets the result count used when a caller omits the
// limit.
func WithDefaultLimit(limit int) Option {
	return func(s *MemoryService) {
		if limit > 0 {
			s.defaultLimit = limit
		}
	}
}

// New creates a MemoryService over the given store and embedding
// provider. Pass embedding.NewDisabled() when no backend is configured.
func New(store storage.MemoryStore, provider embedding.Provider, opts ...Option) *MemoryService {
	s := &MemoryService{
		store:         store,
		provider:      provider,
		logger:        log.Default().With("component", "service"),
		scopePolicy:   types.DefaultScopePolicy(),
		minSimilarity: defaultMinSimilarity,
		defaultLimit:  storage.DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryService) ready() error {
	if s == nil || s.closed.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (s *MemoryService) emit(eventType, memoryID string) {
	if s.notify == nil {
		return
	}
	s.notify(Event{Type: eventType, MemoryID: memoryID, Time: time.Now().UTC()})
}

// CreateParams carries the caller-supplied fields for a new memory.
type CreateParams struct {
	Type       types.MemoryType
	Scope      types.MemoryScope  // empty: resolved from the scope policy by type
	Source     types.MemorySource // empty: ai_inferred
	Content    string
	Context    string
	Tags       []string
	Project    string
	Importance *float64 // nil: 0.5
	Pinned     bool
	Supersedes string // optional id of the memory this one replaces
}

// CreateMemory validates and persists a new memory. Embedding is best
// effort: provider failures are logged and the memory is kept without a
// vector. When Supersedes is set, a supersedes relation is recorded.
func (s *MemoryService) CreateMemory(ctx context.Context, params CreateParams) (*types.Memory, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if params.Content == "" {
		return nil, types.NewValidationError("content", "must not be empty")
	}
	if !types.ValidType(params.Type) {
		return nil, types.NewValidationError("type", "unknown memory type %q", params.Type)
	}
	if params.Scope == "" {
		params.Scope = s.scopePolicy.Resolve(params.Type)
	} else if !types.ValidScope(params.Scope) {
		return nil, types.NewValidationError("scope", "unknown scope %q", params.Scope)
	}
	if params.Source == "" {
		params.Source = types.SourceAIInferred
	} else if !types.ValidSource(params.Source) {
		return nil, types.NewValidationError("source", "unknown source %q", params.Source)
	}

	importance := types.DefaultImportance
	if params.Importance != nil {
		importance = types.ClampImportance(*params.Importance)
	}

	memory, err := s.store.CreateMemory(ctx, storage.CreateSpec{
		Type:       params.Type,
		Scope:      params.Scope,
		Source:     params.Source,
		Content:    params.Content,
		Context:    params.Context,
		Tags:       params.Tags,
		Project:    params.Project,
		Importance: importance,
		Pinned:     params.Pinned,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}

	s.embedAndStore(ctx, memory.ID, memory.Content)

	if params.Supersedes != "" {
		if err := s.store.CreateRelation(ctx, memory.ID, params.Supersedes, types.RelationSupersedes); err != nil {
			return nil, fmt.Errorf("record supersedes relation: %w", err)
		}
	}

	s.emit(EventMemoryCreated, memory.ID)
	return memory, nil
}

// embedAndStore computes and persists the embedding for a memory.
// Provider failures never fail the surrounding operation.
func (s *MemoryService) embedAndStore(ctx context.Context, memoryID, content string) {
	if !s.provider.Available(ctx) {
		return
	}
	vector, err := s.provider.Embed(ctx, content)
	if err != nil {
		s.logger.Warn("embedding failed, memory stored without vector",
			"memory_id", memoryID, "err", err)
		return
	}
	if err := s.store.StoreEmbedding(ctx, memoryID, vector, s.provider.Model()); err != nil {
		s.logger.Warn("storing embedding failed", "memory_id", memoryID, "err", err)
	}
}

// SearchParams carries retrieval filters. Zero values mean "don't
// filter on this dimension".
type SearchParams struct {
	Query             string
	Types             []types.MemoryType
	Scopes            []types.MemoryScope
	Project           string
	Tags              []string
	Limit             int
	MinImportance     float64
	IncludeSuperseded bool
}

// SearchResult pairs a memory with its retrieval score.
type SearchResult struct {
	Memory *types.Memory
	// Score is the final ranking score: blended similarity weighted by
	// importance.
	Score float64
	// MatchType is "semantic" when embeddings contributed to the score,
	// "keyword" otherwise.
	MatchType string
	// SupersededBy is the id of the newest memory superseding this one,
	// empty if none.
	SupersededBy string
}

// SearchMemories retrieves memories ranked by blended similarity and
// importance. When the embedding provider is unavailable or fails, the
// whole batch degrades to keyword scoring. Access is recorded exactly
// once for each returned memory.
func (s *MemoryService) SearchMemories(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	filter := storage.SearchFilter{
		Types:             params.Types,
		Scopes:            params.Scopes,
		Project:           params.Project,
		Tags:              params.Tags,
		IncludeSuperseded: params.IncludeSuperseded,
	}
	limit := s.defaultLimit
	if params.Limit > 0 {
		limit = params.Limit
	}
	filter.Limit = limit * overFetchFactor
	filter.Normalize()

	candidates, err := s.store.SearchMemories(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	results, err := s.scoreCandidates(ctx, params.Query, candidates)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	filtered := results[:0]
	for _, r := range results {
		if r.Memory.Importance >= params.MinImportance {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	for i := range filtered {
		if err := s.store.RecordAccess(ctx, filtered[i].Memory.ID); err != nil {
			s.logger.Warn("recording access failed", "memory_id", filtered[i].Memory.ID, "err", err)
		}
		supersededBy, err := s.store.GetSupersededBy(ctx, filtered[i].Memory.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve superseded-by: %w", err)
		}
		filtered[i].SupersededBy = supersededBy
	}
	return filtered, nil
}

// scoreCandidates assigns a final score to every candidate. Semantic
// scoring applies when a query is present and the provider plus stored
// vectors cooperate; any provider or vector-fetch failure degrades the
// whole batch to keyword scoring. A vector dimension mismatch is a
// data-integrity fault and propagates.
func (s *MemoryService) scoreCandidates(ctx context.Context, query string, candidates []*types.Memory) ([]SearchResult, error) {
	vectors, queryVec := s.semanticInputs(ctx, query)
	semantic := queryVec != nil

	results := make([]SearchResult, 0, len(candidates))
	for _, m := range candidates {
		var raw float64
		matchType := "keyword"

		switch {
		case query == "":
			// Browse mode: rank purely by importance weighting.
			raw = 1
		case semantic:
			keyword := similarity.KeywordScore(query, m.Content)
			if vec, ok := vectors[m.ID]; ok {
				cos, err := similarity.Cosine(queryVec, vec)
				if err != nil {
					var mismatch *similarity.DimensionMismatchError
					if errors.As(err, &mismatch) {
						return nil, fmt.Errorf("embedding for memory %s: %w", m.ID, err)
					}
					return nil, err
				}
				raw = semanticWeight*cos + keywordWeight*keyword
				matchType = "semantic"
			} else {
				// No stored vector: the semantic component contributes 0.
				raw = keywordWeight * keyword
			}
			if raw <= 0 || raw < s.minSimilarity {
				continue
			}
		default:
			raw = similarity.KeywordScore(query, m.Content)
			if raw == 0 {
				continue
			}
		}

		final := raw * (0.5 + 0.5*m.Importance)
		results = append(results, SearchResult{Memory: m, Score: final, MatchType: matchType})
	}
	return results, nil
}

// semanticInputs returns the stored vectors and the query embedding, or
// (nil, nil) when the search should degrade to keyword scoring.
func (s *MemoryService) semanticInputs(ctx context.Context, query string) (map[string][]float32, []float32) {
	if query == "" || !s.provider.Available(ctx) {
		return nil, nil
	}
	queryVec, err := s.provider.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to keyword search", "err", err)
		return nil, nil
	}
	stored, err := s.store.GetAllEmbeddings(ctx)
	if err != nil {
		s.logger.Warn("loading embeddings failed, falling back to keyword search", "err", err)
		return nil, nil
	}
	vectors := make(map[string][]float32, len(stored))
	for _, e := range stored {
		vectors[e.MemoryID] = e.Vector
	}
	return vectors, queryVec
}

// GetMemory returns a memory by id, recording the access. Returns
// (nil, nil) when the id is unknown.
func (s *MemoryService) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	memory, err := s.store.GetMemory(ctx, id)
	if err != nil || memory == nil {
		return nil, err
	}
	if err := s.store.RecordAccess(ctx, id); err != nil {
		s.logger.Warn("recording access failed", "memory_id", id, "err", err)
	}
	return memory, nil
}

// BoostMemory raises (or with a negative delta, lowers) a memory's
// importance, clamped to [0, 1]. A nil delta applies DefaultBoostDelta;
// an explicit zero is a no-op. Unknown ids are a no-op.
func (s *MemoryService) BoostMemory(ctx context.Context, id string, delta *float64) error {
	if err := s.ready(); err != nil {
		return err
	}
	amount := DefaultBoostDelta
	if delta != nil {
		amount = *delta
	}
	return s.store.BoostImportance(ctx, id, amount)
}

// PinMemory sets or clears the pinned flag. Pinned memories are exempt
// from decay. Unknown ids are a no-op.
func (s *MemoryService) PinMemory(ctx context.Context, id string, pinned bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.SetPinned(ctx, id, pinned)
}

// DeleteMemory removes a memory and its embedding. Returns whether the
// memory existed.
func (s *MemoryService) DeleteMemory(ctx context.Context, id string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	existed, err := s.store.DeleteMemory(ctx, id)
	if err != nil {
		return false, err
	}
	if existed {
		s.emit(EventMemoryDeleted, id)
	}
	return existed, nil
}

// CreateRelation records a typed edge between two memories. Edges are
// append-only and tolerant of ids that no longer resolve.
func (s *MemoryService) CreateRelation(ctx context.Context, fromID, toID string, relType types.RelationType) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !types.ValidRelationType(relType) {
		return types.NewValidationError("type", "unknown relation type %q", relType)
	}
	return s.store.CreateRelation(ctx, fromID, toID, relType)
}

// GetRelations returns all outgoing relations of a memory.
func (s *MemoryService) GetRelations(ctx context.Context, fromID string) ([]types.Relation, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.GetRelations(ctx, fromID)
}

// GetRecentMemories returns the most recently updated memories,
// restricted to the project's scope view when project is set.
func (s *MemoryService) GetRecentMemories(ctx context.Context, limit int, project string) ([]*types.Memory, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.store.GetRecentMemories(ctx, limit, project)
}

// ApplyDecay runs the store's importance decay pass and reports how
// many memories changed.
func (s *MemoryService) ApplyDecay(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	changed, err := s.store.ApplyDecay(ctx)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		s.emit(EventDecayApplied, "")
	}
	s.logger.Info("decay applied", "changed", changed)
	return changed, nil
}

// HasSemanticSearch reports whether semantic search is currently
// available.
func (s *MemoryService) HasSemanticSearch(ctx context.Context) bool {
	if s.ready() != nil {
		return false
	}
	return s.provider.Available(ctx)
}

// EmbeddingModel returns the configured embedding model identifier.
func (s *MemoryService) EmbeddingModel() string {
	if s == nil {
		return ""
	}
	return s.provider.Model()
}

// Close releases the underlying store. Safe to call more than once;
// operations after Close fail with ErrNotInitialized.
func (s *MemoryService) Close() error {
	if s == nil || s.closed.Swap(true) {
		return nil
	}
	return s.store.Close()
}
