package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/storage/postgres"
	"github.com/engramlabs/engram/pkg/types"
)

// newTestStore connects to the database named by ENGRAM_POSTGRES_TEST_DSN
// and starts from empty tables. Tests are skipped when the variable is
// not set.
func newTestStore(t *testing.T) *postgres.MemoryStore {
	t.Helper()

	dsn := os.Getenv("ENGRAM_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("ENGRAM_POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}

	store, err := postgres.NewMemoryStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.GetDB().Exec(`TRUNCATE memories, relations, embeddings`)
	require.NoError(t, err)
	return store
}

func createTestMemory(t *testing.T, store *postgres.MemoryStore, content string) *types.Memory {
	t.Helper()
	mem, err := store.CreateMemory(context.Background(), storage.CreateSpec{
		Type:       types.TypeInsight,
		Scope:      types.ScopeProject,
		Source:     types.SourceAIInferred,
		Content:    content,
		Project:    "engram",
		Importance: 0.5,
	})
	require.NoError(t, err)
	return mem
}

func TestCreateAndGetMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := createTestMemory(t, store, "prefers table-driven tests")

	got, err := store.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, mem.ID, got.ID)
	assert.Equal(t, "prefers table-driven tests", got.Content)
	assert.Equal(t, types.TypeInsight, got.Type)
	assert.InDelta(t, 0.5, got.Importance, 1e-9)
	assert.Nil(t, got.LastAccessedAt)

	missing, err := store.GetMemory(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSearchExcludesSuperseded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := createTestMemory(t, store, "old fact")
	replacement := createTestMemory(t, store, "new fact")
	require.NoError(t, store.CreateRelation(ctx, replacement.ID, old.ID, types.RelationSupersedes))

	results, err := store.SearchMemories(ctx, storage.SearchFilter{Project: "engram"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, replacement.ID, results[0].ID)

	all, err := store.SearchMemories(ctx, storage.SearchFilter{Project: "engram", IncludeSuperseded: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	from, err := store.GetSupersededBy(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, from)
}

func TestSearchTagsAnyOf(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tagged, err := store.CreateMemory(ctx, storage.CreateSpec{
		Type: types.TypeGotcha, Scope: types.ScopeProject, Source: types.SourceUserStated,
		Content: "sqlite needs busy_timeout", Tags: []string{"sqlite", "locking"},
	})
	require.NoError(t, err)
	createTestMemory(t, store, "untagged")

	results, err := store.SearchMemories(ctx, storage.SearchFilter{Tags: []string{"locking", "nomatch"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tagged.ID, results[0].ID)
}

func TestRecordAccessAndBoost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := createTestMemory(t, store, "accessed")
	require.NoError(t, store.RecordAccess(ctx, mem.ID))
	require.NoError(t, store.BoostImportance(ctx, mem.ID, 0.9))

	got, err := store.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
	require.NotNil(t, got.LastAccessedAt)
	assert.WithinDuration(t, time.Now(), *got.LastAccessedAt, time.Minute)
	assert.InDelta(t, 1.0, got.Importance, 1e-9) // clamped

	// Unknown IDs are no-ops.
	assert.NoError(t, store.BoostImportance(ctx, "00000000-0000-0000-0000-000000000000", 0.1))
}

func TestDeleteMemoryRemovesEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := createTestMemory(t, store, "short lived")
	require.NoError(t, store.StoreEmbedding(ctx, mem.ID, []float32{0.1, 0.2, 0.3}, "nomic-embed-text"))

	existed, err := store.DeleteMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.DeleteMemory(ctx, mem.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	embeds, err := store.GetAllEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, embeds)
}

func TestStoreEmbeddingUpsertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mem := createTestMemory(t, store, "vectorized")
	require.NoError(t, store.StoreEmbedding(ctx, mem.ID, []float32{1, 2, 3}, "m1"))
	require.NoError(t, store.StoreEmbedding(ctx, mem.ID, []float32{4, 5, 6, 7}, "m2"))

	embeds, err := store.GetAllEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, embeds, 1)
	assert.Equal(t, mem.ID, embeds[0].MemoryID)
	assert.Equal(t, []float32{4, 5, 6, 7}, embeds[0].Vector)
}

func TestApplyDecaySkipsPinned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	decayed := createTestMemory(t, store, "stale")
	pinned := createTestMemory(t, store, "pinned")
	require.NoError(t, store.SetPinned(ctx, pinned.ID, true))

	// Age both memories by 30 days so one half-life elapses.
	_, err := store.GetDB().Exec(
		`UPDATE memories SET created_at = NOW() - INTERVAL '30 days'`)
	require.NoError(t, err)

	changed, err := store.ApplyDecay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := store.GetMemory(ctx, decayed.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got.Importance, 0.01)

	got, err = store.GetMemory(ctx, pinned.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Importance, 1e-9)
}
