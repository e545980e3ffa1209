package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db    *sql.DB
	decay storage.DecayPolicy
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithDecayPolicy replaces the default importance decay policy.
func WithDecayPolicy(p storage.DecayPolicy) Option {
	return func(s *MemoryStore) {
		s.decay = p
	}
}

// NewMemoryStore opens a SQLite database, configures WAL mode, and creates
// the schema. Use ":memory:" as the DSN for an ephemeral store in tests.
func NewMemoryStore(dsn string, opts ...Option) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode lets readers proceed without blocking the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing immediately when the connection is busy.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	store := &MemoryStore{
		db:    db,
		decay: storage.DefaultDecayPolicy(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// GetDB exposes the underlying connection for tooling (decay CLI, web stats).
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// CreateMemory persists a new memory with a generated ID and timestamps.
func (s *MemoryStore) CreateMemory(ctx context.Context, spec storage.CreateSpec) (*types.Memory, error) {
	if spec.Content == "" {
		return nil, fmt.Errorf("%w: memory content is required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	mem := &types.Memory{
		ID:         uuid.NewString(),
		Type:       spec.Type,
		Scope:      spec.Scope,
		Source:     spec.Source,
		Content:    spec.Content,
		Context:    spec.Context,
		Tags:       spec.Tags,
		Project:    spec.Project,
		Importance: types.ClampImportance(spec.Importance),
		Pinned:     spec.Pinned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var tagsJSON []byte
	if len(mem.Tags) > 0 {
		var err error
		tagsJSON, err = json.Marshal(mem.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	query := `
		INSERT INTO memories (
			id, type, scope, source, content, context, tags, project,
			importance, pinned, created_at, updated_at, last_accessed_at, access_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)
	`
	_, err := s.db.ExecContext(ctx, query,
		mem.ID, string(mem.Type), string(mem.Scope), string(mem.Source),
		mem.Content, nullableString(mem.Context), nullableBytes(tagsJSON),
		nullableString(mem.Project), mem.Importance, boolToInt(mem.Pinned),
		mem.CreatedAt, mem.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}

	return mem, nil
}

const memoryColumns = `id, type, scope, source, content, context, tags, project,
	importance, pinned, created_at, updated_at, last_accessed_at, access_count`

// GetMemory retrieves a memory by ID. Returns (nil, nil) when absent.
func (s *MemoryStore) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	mem, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return mem, nil
}

// SearchMemories returns an unranked candidate list matching the filter.
// All supplied dimensions combine with AND; superseded memories are
// excluded unless the filter requests them.
func (s *MemoryStore) SearchMemories(ctx context.Context, filter storage.SearchFilter) ([]*types.Memory, error) {
	filter.Normalize()

	var (
		clauses []string
		args    []any
	)

	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(ph, ", ")+")")
	}

	if len(filter.Scopes) > 0 {
		ph := make([]string, len(filter.Scopes))
		for i, sc := range filter.Scopes {
			ph[i] = "?"
			args = append(args, string(sc))
		}
		clauses = append(clauses, "scope IN ("+strings.Join(ph, ", ")+")")
	}

	if filter.Project != "" {
		clauses = append(clauses, "project = ?")
		args = append(args, filter.Project)
	}

	if len(filter.Tags) > 0 {
		ph := make([]string, len(filter.Tags))
		for i, tag := range filter.Tags {
			ph[i] = "?"
			args = append(args, tag)
		}
		clauses = append(clauses,
			"EXISTS (SELECT 1 FROM json_each(COALESCE(memories.tags, '[]')) WHERE json_each.value IN ("+strings.Join(ph, ", ")+"))")
	}

	if !filter.IncludeSuperseded {
		clauses = append(clauses,
			"id NOT IN (SELECT to_id FROM relations WHERE type = ?)")
		args = append(args, string(types.RelationSupersedes))
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// RecordAccess increments access_count and updates last_accessed_at.
// Unknown IDs are a no-op.
func (s *MemoryStore) RecordAccess(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record access: %w", err)
	}
	return nil
}

// BoostImportance adds amount to importance, clamped to [0,1].
// Unknown IDs are a no-op, not an error.
func (s *MemoryStore) BoostImportance(ctx context.Context, id string, amount float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET importance = MAX(0.0, MIN(1.0, importance + ?)), updated_at = ?
		WHERE id = ?
	`, amount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to boost importance: %w", err)
	}
	return nil
}

// SetPinned sets the pinned flag. Unknown IDs are a no-op.
func (s *MemoryStore) SetPinned(ctx context.Context, id string, pinned bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET pinned = ?, updated_at = ? WHERE id = ?
	`, boolToInt(pinned), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set pinned: %w", err)
	}
	return nil
}

// DeleteMemory removes the memory and its owned embedding. Relations are
// left in place; readers join against live memories, so dangling edges are
// harmless.
func (s *MemoryStore) DeleteMemory(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE memory_id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete embedding: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return affected > 0, nil
}

// CreateRelation appends a new directed relation. Append-only; dangling
// references are tolerated so a concurrent delete of either endpoint
// cannot fail the caller.
func (s *MemoryStore) CreateRelation(ctx context.Context, fromID, toID string, relType types.RelationType) error {
	if fromID == "" || toID == "" {
		return fmt.Errorf("%w: relation endpoints are required", storage.ErrInvalidInput)
	}
	if !types.ValidRelationType(relType) {
		return fmt.Errorf("%w: unknown relation type %q", storage.ErrInvalidInput, relType)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (from_id, to_id, type, created_at) VALUES (?, ?, ?, ?)
	`, fromID, toID, string(relType), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create relation: %w", err)
	}
	return nil
}

// GetRelations returns all relations whose source is the given ID.
func (s *MemoryStore) GetRelations(ctx context.Context, id string) ([]types.Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_id, to_id, type, created_at
		FROM relations WHERE from_id = ?
		ORDER BY created_at ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get relations: %w", err)
	}
	defer rows.Close()

	var rels []types.Relation
	for rows.Next() {
		var rel types.Relation
		var relType string
		if err := rows.Scan(&rel.FromID, &rel.ToID, &relType, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		rel.Type = types.RelationType(relType)
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// GetSupersededBy returns the from_id of the supersedes relation targeting
// the given ID, or "" when the memory is not superseded. With multiple
// superseding edges the most recent wins.
func (s *MemoryStore) GetSupersededBy(ctx context.Context, id string) (string, error) {
	var fromID string
	err := s.db.QueryRowContext(ctx, `
		SELECT from_id FROM relations
		WHERE to_id = ? AND type = ?
		ORDER BY created_at DESC LIMIT 1
	`, id, string(types.RelationSupersedes)).Scan(&fromID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get superseding memory: %w", err)
	}
	return fromID, nil
}

// StoreEmbedding upserts the embedding for a memory.
func (s *MemoryStore) StoreEmbedding(ctx context.Context, memoryID string, vector []float32, model string) error {
	if memoryID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (memory_id, vector, dimension, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(memory_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = CURRENT_TIMESTAMP
	`, memoryID, serializeVector(vector), len(vector), model)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// GetAllEmbeddings returns the stored vector for every memory that has one.
func (s *MemoryStore) GetAllEmbeddings(ctx context.Context) ([]storage.StoredEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT memory_id, vector, dimension FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to get embeddings: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredEmbedding
	for rows.Next() {
		var (
			memoryID  string
			buf       []byte
			dimension int
		)
		if err := rows.Scan(&memoryID, &buf, &dimension); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec, err := deserializeVector(buf, dimension)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding for %s: %w", memoryID, err)
		}
		out = append(out, storage.StoredEmbedding{MemoryID: memoryID, Vector: vec})
	}
	return out, rows.Err()
}

// GetRecentMemories returns the most recently updated memories. A non-empty
// project restricts results to that project plus globally scoped memories.
func (s *MemoryStore) GetRecentMemories(ctx context.Context, limit int, project string) ([]*types.Memory, error) {
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	var args []any
	if project != "" {
		query += ` WHERE project = ? OR scope = ?`
		args = append(args, project, string(types.ScopeGlobal))
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// ApplyDecay reduces importance for every non-pinned memory according to
// the store's decay policy. The half-life clock runs from the last access
// (or creation when never read). Returns the count of memories changed.
func (s *MemoryStore) ApplyDecay(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, importance, last_accessed_at, created_at
		FROM memories WHERE pinned = 0
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to load memories for decay: %w", err)
	}

	type update struct {
		id         string
		importance float64
	}

	now := time.Now().UTC()
	var updates []update
	for rows.Next() {
		var (
			id           string
			importance   float64
			lastAccessed sql.NullTime
			createdAt    time.Time
		)
		if err := rows.Scan(&id, &importance, &lastAccessed, &createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan memory for decay: %w", err)
		}
		anchor := createdAt
		if lastAccessed.Valid {
			anchor = lastAccessed.Time
		}
		decayed := s.decay.Decayed(importance, anchor, now)
		if decayed < importance-1e-9 {
			updates = append(updates, update{id: id, importance: decayed})
		}
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to read memories for decay: %w", err)
	}

	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin decay: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET importance = ? WHERE id = ?`, u.importance, u.id); err != nil {
			return 0, fmt.Errorf("failed to apply decay to %s: %w", u.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit decay: %w", err)
	}
	return len(updates), nil
}

// Close releases the database connection. Idempotent.
func (s *MemoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Compile-time assertion.
var _ storage.MemoryStore = (*MemoryStore)(nil)

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanMemory reads one memory row.
func scanMemory(row scanner) (*types.Memory, error) {
	var (
		mem                 types.Memory
		memType, scope, src string
		memCtx, tagsJSON    sql.NullString
		project             sql.NullString
		pinned              int
		lastAccessed        sql.NullTime
	)

	err := row.Scan(
		&mem.ID, &memType, &scope, &src, &mem.Content, &memCtx, &tagsJSON, &project,
		&mem.Importance, &pinned, &mem.CreatedAt, &mem.UpdatedAt, &lastAccessed, &mem.AccessCount,
	)
	if err != nil {
		return nil, err
	}

	mem.Type = types.MemoryType(memType)
	mem.Scope = types.MemoryScope(scope)
	mem.Source = types.MemorySource(src)
	mem.Context = memCtx.String
	mem.Project = project.String
	mem.Pinned = pinned != 0
	if lastAccessed.Valid {
		t := lastAccessed.Time
		mem.LastAccessedAt = &t
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &mem.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &mem, nil
}

// collectMemories drains rows into a slice.
func collectMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var out []*types.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
