package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T, opts ...Option) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreate(t *testing.T, store *MemoryStore, spec storage.CreateSpec) *types.Memory {
	t.Helper()
	if spec.Type == "" {
		spec.Type = types.TypeInsight
	}
	if spec.Scope == "" {
		spec.Scope = types.ScopeProject
	}
	if spec.Source == "" {
		spec.Source = types.SourceAIInferred
	}
	mem, err := store.CreateMemory(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateMemory() failed: %v", err)
	}
	return mem
}

func TestCreateAndGetMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := mustCreate(t, store, storage.CreateSpec{
		Type:       types.TypeGotcha,
		Scope:      types.ScopePrivate,
		Source:     types.SourceUserStated,
		Content:    "sqlite only supports one concurrent writer",
		Context:    "discovered during load testing",
		Tags:       []string{"sqlite", "concurrency"},
		Project:    "engram",
		Importance: 0.7,
		Pinned:     true,
	})

	if mem.ID == "" {
		t.Fatal("CreateMemory() returned empty ID")
	}
	if mem.AccessCount != 0 {
		t.Errorf("AccessCount: got %d, want 0", mem.AccessCount)
	}
	if mem.CreatedAt.IsZero() || mem.UpdatedAt.IsZero() {
		t.Error("timestamps not assigned at creation")
	}

	got, err := store.GetMemory(ctx, mem.ID)
	if err != nil {
		t.Fatalf("GetMemory() failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetMemory() returned nil for existing memory")
	}
	if got.Type != types.TypeGotcha || got.Scope != types.ScopePrivate || got.Source != types.SourceUserStated {
		t.Errorf("enum round-trip: got %q/%q/%q", got.Type, got.Scope, got.Source)
	}
	if got.Content != mem.Content || got.Context != mem.Context || got.Project != "engram" {
		t.Errorf("content round-trip mismatch: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "sqlite" || got.Tags[1] != "concurrency" {
		t.Errorf("tags round-trip: got %v", got.Tags)
	}
	if !got.Pinned {
		t.Error("pinned flag lost in round-trip")
	}
	if got.Importance != 0.7 {
		t.Errorf("importance: got %v, want 0.7", got.Importance)
	}
	if got.LastAccessedAt != nil {
		t.Error("LastAccessedAt should be nil before first access")
	}
}

func TestCreateMemoryRequiresContent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateMemory(context.Background(), storage.CreateSpec{
		Type: types.TypeInsight, Scope: types.ScopeProject, Source: types.SourceAIInferred,
	})
	if err == nil {
		t.Fatal("CreateMemory() with empty content succeeded, want error")
	}
}

func TestCreateMemoryClampsImportance(t *testing.T) {
	store := newTestStore(t)
	mem := mustCreate(t, store, storage.CreateSpec{Content: "x", Importance: 7.5})
	if mem.Importance != 1.0 {
		t.Errorf("importance: got %v, want 1.0", mem.Importance)
	}
}

func TestGetMemoryAbsent(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetMemory(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetMemory() failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetMemory() for unknown ID: got %+v, want nil", got)
	}
}

func TestRecordAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mem := mustCreate(t, store, storage.CreateSpec{Content: "accessed"})

	for i := 0; i < 3; i++ {
		if err := store.RecordAccess(ctx, mem.ID); err != nil {
			t.Fatalf("RecordAccess() failed: %v", err)
		}
	}

	got, err := store.GetMemory(ctx, mem.ID)
	if err != nil {
		t.Fatalf("GetMemory() failed: %v", err)
	}
	if got.AccessCount != 3 {
		t.Errorf("AccessCount: got %d, want 3", got.AccessCount)
	}
	if got.LastAccessedAt == nil {
		t.Error("LastAccessedAt not set after access")
	}

	// Unknown IDs are a silent no-op.
	if err := store.RecordAccess(ctx, "no-such-id"); err != nil {
		t.Errorf("RecordAccess() on unknown ID: got %v, want nil", err)
	}
}

func TestBoostImportanceClamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mem := mustCreate(t, store, storage.CreateSpec{Content: "boosted", Importance: 0.9})

	if err := store.BoostImportance(ctx, mem.ID, 0.5); err != nil {
		t.Fatalf("BoostImportance() failed: %v", err)
	}
	got, _ := store.GetMemory(ctx, mem.ID)
	if got.Importance != 1.0 {
		t.Errorf("importance after over-boost: got %v, want 1.0", got.Importance)
	}

	if err := store.BoostImportance(ctx, mem.ID, -5.0); err != nil {
		t.Fatalf("BoostImportance() failed: %v", err)
	}
	got, _ = store.GetMemory(ctx, mem.ID)
	if got.Importance != 0.0 {
		t.Errorf("importance after over-penalty: got %v, want 0.0", got.Importance)
	}

	if err := store.BoostImportance(ctx, "no-such-id", 0.1); err != nil {
		t.Errorf("BoostImportance() on unknown ID: got %v, want nil", err)
	}
}

func TestSetPinned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mem := mustCreate(t, store, storage.CreateSpec{Content: "pin me"})

	if err := store.SetPinned(ctx, mem.ID, true); err != nil {
		t.Fatalf("SetPinned() failed: %v", err)
	}
	got, _ := store.GetMemory(ctx, mem.ID)
	if !got.Pinned {
		t.Error("memory not pinned after SetPinned(true)")
	}

	if err := store.SetPinned(ctx, "no-such-id", true); err != nil {
		t.Errorf("SetPinned() on unknown ID: got %v, want nil", err)
	}
}

func TestDeleteMemoryRemovesEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mem := mustCreate(t, store, storage.CreateSpec{Content: "doomed"})

	if err := store.StoreEmbedding(ctx, mem.ID, []float32{0.1, 0.2, 0.3}, "test-model"); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}

	existed, err := store.DeleteMemory(ctx, mem.ID)
	if err != nil {
		t.Fatalf("DeleteMemory() failed: %v", err)
	}
	if !existed {
		t.Error("DeleteMemory() reported not-existed for live memory")
	}

	if got, _ := store.GetMemory(ctx, mem.ID); got != nil {
		t.Error("memory still present after delete")
	}
	embeddings, err := store.GetAllEmbeddings(ctx)
	if err != nil {
		t.Fatalf("GetAllEmbeddings() failed: %v", err)
	}
	if len(embeddings) != 0 {
		t.Errorf("embeddings after delete: got %d, want 0", len(embeddings))
	}

	existed, err = store.DeleteMemory(ctx, mem.ID)
	if err != nil {
		t.Fatalf("second DeleteMemory() failed: %v", err)
	}
	if existed {
		t.Error("second DeleteMemory() reported existed")
	}
}

func TestSupersessionFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := mustCreate(t, store, storage.CreateSpec{Content: "use yarn"})
	current := mustCreate(t, store, storage.CreateSpec{Content: "use pnpm"})

	if err := store.CreateRelation(ctx, current.ID, old.ID, types.RelationSupersedes); err != nil {
		t.Fatalf("CreateRelation() failed: %v", err)
	}

	// Default search excludes the superseded memory.
	results, err := store.SearchMemories(ctx, storage.SearchFilter{Limit: 10})
	if err != nil {
		t.Fatalf("SearchMemories() failed: %v", err)
	}
	for _, mem := range results {
		if mem.ID == old.ID {
			t.Error("superseded memory returned from default search")
		}
	}
	if len(results) != 1 {
		t.Errorf("default search results: got %d, want 1", len(results))
	}

	// IncludeSuperseded brings it back.
	results, err = store.SearchMemories(ctx, storage.SearchFilter{Limit: 10, IncludeSuperseded: true})
	if err != nil {
		t.Fatalf("SearchMemories(IncludeSuperseded) failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("inclusive search results: got %d, want 2", len(results))
	}

	// The superseded memory itself persists.
	if got, _ := store.GetMemory(ctx, old.ID); got == nil {
		t.Error("superseded memory was deleted, want persisted")
	}

	supersededBy, err := store.GetSupersededBy(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetSupersededBy() failed: %v", err)
	}
	if supersededBy != current.ID {
		t.Errorf("GetSupersededBy(): got %q, want %q", supersededBy, current.ID)
	}

	supersededBy, err = store.GetSupersededBy(ctx, current.ID)
	if err != nil {
		t.Fatalf("GetSupersededBy() failed: %v", err)
	}
	if supersededBy != "" {
		t.Errorf("GetSupersededBy() for live memory: got %q, want empty", supersededBy)
	}
}

func TestSearchFilterDimensions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, storage.CreateSpec{
		Type: types.TypePreference, Scope: types.ScopeGlobal,
		Content: "prefers dark mode", Tags: []string{"ui"},
	})
	mustCreate(t, store, storage.CreateSpec{
		Type: types.TypeGotcha, Scope: types.ScopeProject, Project: "engram",
		Content: "json_each needs COALESCE", Tags: []string{"sqlite", "json"},
	})
	mustCreate(t, store, storage.CreateSpec{
		Type: types.TypeGotcha, Scope: types.ScopeProject, Project: "other",
		Content: "different project gotcha",
	})

	// Single dimension: type.
	results, err := store.SearchMemories(ctx, storage.SearchFilter{
		Types: []types.MemoryType{types.TypeGotcha},
	})
	if err != nil {
		t.Fatalf("SearchMemories(types) failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("type filter: got %d results, want 2", len(results))
	}

	// AND across dimensions: type + project.
	results, err = store.SearchMemories(ctx, storage.SearchFilter{
		Types:   []types.MemoryType{types.TypeGotcha},
		Project: "engram",
	})
	if err != nil {
		t.Fatalf("SearchMemories(types+project) failed: %v", err)
	}
	if len(results) != 1 || results[0].Project != "engram" {
		t.Errorf("type+project filter: got %d results", len(results))
	}

	// Tags dimension matches any supplied tag.
	results, err = store.SearchMemories(ctx, storage.SearchFilter{
		Tags: []string{"json", "missing"},
	})
	if err != nil {
		t.Fatalf("SearchMemories(tags) failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("tag filter: got %d results, want 1", len(results))
	}

	// Scopes dimension.
	results, err = store.SearchMemories(ctx, storage.SearchFilter{
		Scopes: []types.MemoryScope{types.ScopeGlobal},
	})
	if err != nil {
		t.Fatalf("SearchMemories(scopes) failed: %v", err)
	}
	if len(results) != 1 || results[0].Type != types.TypePreference {
		t.Errorf("scope filter: got %d results", len(results))
	}
}

func TestRelationsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, store, storage.CreateSpec{Content: "a"})
	b := mustCreate(t, store, storage.CreateSpec{Content: "b"})

	// Duplicates are not de-duplicated.
	for i := 0; i < 2; i++ {
		if err := store.CreateRelation(ctx, a.ID, b.ID, types.RelationRelatesTo); err != nil {
			t.Fatalf("CreateRelation() failed: %v", err)
		}
	}
	// Dangling target is tolerated.
	if err := store.CreateRelation(ctx, a.ID, "ghost-id", types.RelationCausedBy); err != nil {
		t.Fatalf("CreateRelation() with dangling target failed: %v", err)
	}

	rels, err := store.GetRelations(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetRelations() failed: %v", err)
	}
	if len(rels) != 3 {
		t.Errorf("relations: got %d, want 3", len(rels))
	}

	if err := store.CreateRelation(ctx, a.ID, b.ID, "bogus"); err == nil {
		t.Error("CreateRelation() with unknown type succeeded, want error")
	}
}

func TestEmbeddingUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mem := mustCreate(t, store, storage.CreateSpec{Content: "embedded"})

	if err := store.StoreEmbedding(ctx, mem.ID, []float32{1, 2, 3}, "model-a"); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	// Regeneration overwrites the prior vector.
	if err := store.StoreEmbedding(ctx, mem.ID, []float32{4, 5, 6, 7}, "model-b"); err != nil {
		t.Fatalf("StoreEmbedding() upsert failed: %v", err)
	}

	embeddings, err := store.GetAllEmbeddings(ctx)
	if err != nil {
		t.Fatalf("GetAllEmbeddings() failed: %v", err)
	}
	if len(embeddings) != 1 {
		t.Fatalf("embeddings: got %d, want 1", len(embeddings))
	}
	got := embeddings[0]
	if got.MemoryID != mem.ID {
		t.Errorf("MemoryID: got %q, want %q", got.MemoryID, mem.ID)
	}
	if len(got.Vector) != 4 || got.Vector[0] != 4 || got.Vector[3] != 7 {
		t.Errorf("vector after upsert: got %v", got.Vector)
	}
}

func TestGetRecentMemoriesProjectRestriction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, storage.CreateSpec{Content: "project fact", Project: "engram"})
	mustCreate(t, store, storage.CreateSpec{Content: "global fact", Scope: types.ScopeGlobal})
	mustCreate(t, store, storage.CreateSpec{Content: "other project", Project: "other"})

	results, err := store.GetRecentMemories(ctx, 10, "engram")
	if err != nil {
		t.Fatalf("GetRecentMemories() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("recent memories: got %d, want 2 (project + global)", len(results))
	}
	for _, mem := range results {
		if mem.Project != "engram" && mem.Scope != types.ScopeGlobal {
			t.Errorf("unexpected memory in project view: %+v", mem)
		}
	}
}

func TestApplyDecaySkipsPinned(t *testing.T) {
	store := newTestStore(t, WithDecayPolicy(storage.DecayPolicy{HalfLifeDays: 30, Floor: 0.05}))
	ctx := context.Background()

	decayed := mustCreate(t, store, storage.CreateSpec{Content: "stale", Importance: 0.8})
	pinned := mustCreate(t, store, storage.CreateSpec{Content: "pinned", Importance: 0.8, Pinned: true})

	// Backdate both so a full half-life has elapsed.
	past := time.Now().UTC().AddDate(0, 0, -30)
	for _, id := range []string{decayed.ID, pinned.ID} {
		if _, err := store.GetDB().Exec(`UPDATE memories SET created_at = ? WHERE id = ?`, past, id); err != nil {
			t.Fatalf("backdating failed: %v", err)
		}
	}

	changed, err := store.ApplyDecay(ctx)
	if err != nil {
		t.Fatalf("ApplyDecay() failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("changed count: got %d, want 1", changed)
	}

	got, _ := store.GetMemory(ctx, decayed.ID)
	if got.Importance >= 0.8 {
		t.Errorf("non-pinned importance did not decay: %v", got.Importance)
	}
	got, _ = store.GetMemory(ctx, pinned.ID)
	if got.Importance != 0.8 {
		t.Errorf("pinned importance changed: got %v, want 0.8", got.Importance)
	}
}

func TestCloseIdempotent(t *testing.T) {
	store, err := NewMemoryStore(":memory:")
	if err != nil {
		t.Fatalf("NewMemoryStore() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}
