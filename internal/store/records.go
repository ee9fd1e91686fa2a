package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/memctx/memctx/internal/memory"
)

const recordColumns = `id, agent_id, key, value, category,
	embedding, embedding_model, dimensions, created_at, updated_at, expires_at`

// Upsert writes a record keyed by (agent_id, key). Inserts create the record;
// conflicts update it in place, refreshing updated_at. The stored embedding is
// replaced by whatever the record carries — a content write without a vector
// clears any stale one, and the backfill pass recomputes it.
func (db *DB) Upsert(ctx context.Context, rec *memory.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate record: %w", err)
	}

	now := time.Now().UnixMilli()
	var blob []byte
	var model sql.NullString
	var dims sql.NullInt64
	if rec.HasEmbedding() {
		blob = encodeEmbedding(rec.Embedding)
		model = sql.NullString{String: rec.EmbeddingModel, Valid: true}
		dims = sql.NullInt64{Int64: int64(len(rec.Embedding)), Valid: true}
	}
	var expires sql.NullInt64
	if rec.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: rec.ExpiresAt.UnixMilli(), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (agent_id, key, value, category, embedding, embedding_model, dimensions,
			created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, key) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			dimensions = excluded.dimensions,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, rec.AgentID, rec.Key, rec.Value, string(rec.Category),
		blob, model, dims, now, now, expires)
	if err != nil {
		return fmt.Errorf("upsert memory %s/%s: %w", rec.AgentID, rec.Key, err)
	}

	rec.UpdatedAt = time.UnixMilli(now)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	return nil
}

// Get returns one record by agent and key, or nil if not found. Expired
// records are still returned here — liveness filtering belongs to the
// retrieval queries, not point reads.
func (db *DB) Get(ctx context.Context, agentID, key string) (*memory.Record, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM memories WHERE agent_id = ? AND key = ?
	`, agentID, key)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s/%s: %w", agentID, key, err)
	}
	return rec, nil
}

// Delete removes a record. Returns false if no record matched.
func (db *DB) Delete(ctx context.Context, agentID, key string) (bool, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM memories WHERE agent_id = ? AND key = ?", agentID, key)
	if err != nil {
		return false, fmt.Errorf("delete memory %s/%s: %w", agentID, key, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// CountActive returns the number of non-expired records for an agent.
func (db *DB) CountActive(ctx context.Context, agentID string) (int, error) {
	now := time.Now().UnixMilli()
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories
		WHERE agent_id = ? AND (expires_at IS NULL OR expires_at > ?)
	`, agentID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return count, nil
}

// ListActive returns the non-expired records for an agent, optionally
// restricted to one retrieval group. Ordered by insertion (id), which is the
// stable store order the engine's tie-break relies on.
func (db *DB) ListActive(ctx context.Context, agentID string, group memory.Group) ([]memory.Record, error) {
	now := time.Now().UnixMilli()

	query := `
		SELECT ` + recordColumns + `
		FROM memories
		WHERE agent_id = ? AND (expires_at IS NULL OR expires_at > ?)`
	args := []any{agentID, now}

	if group != memory.GroupAll {
		cats := memory.CategoriesIn(group)
		placeholders := make([]string, len(cats))
		for i, c := range cats {
			placeholders[i] = "?"
			args = append(args, string(c))
		}
		query += " AND category IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SaveEmbedding stores a computed vector for an existing record without
// touching updated_at: embedding backfill is not a content write and must not
// distort recency scoring.
func (db *DB) SaveEmbedding(ctx context.Context, agentID, key string, vec []float64, model string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE memories SET embedding = ?, embedding_model = ?, dimensions = ?
		WHERE agent_id = ? AND key = ?
	`, encodeEmbedding(vec), model, len(vec), agentID, key)
	if err != nil {
		return fmt.Errorf("save embedding %s/%s: %w", agentID, key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("save embedding %s/%s: record not found", agentID, key)
	}
	return nil
}

// ListMissingEmbeddings returns active records that have no stored vector,
// up to limit, across all agents. Feeds the serve-time backfill pass.
func (db *DB) ListMissingEmbeddings(ctx context.Context, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UnixMilli()
	rows, err := db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM memories
		WHERE embedding IS NULL AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY id
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list missing embeddings: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// PurgeExpired physically removes records whose expires_at has passed.
// Retrieval correctness never depends on this — every query filters expiry
// itself — it only keeps the table from accumulating dead rows.
func (db *DB) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	result, err := db.ExecContext(ctx,
		"DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*memory.Record, error) {
	var rec memory.Record
	var id int64
	var category string
	var blob []byte
	var model sql.NullString
	var dims sql.NullInt64
	var createdAt, updatedAt int64
	var expiresAt sql.NullInt64

	err := row.Scan(&id, &rec.AgentID, &rec.Key, &rec.Value, &category,
		&blob, &model, &dims, &createdAt, &updatedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	rec.Category = memory.Category(category)
	if blob != nil {
		rec.Embedding = decodeEmbedding(blob)
		rec.EmbeddingModel = model.String
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]memory.Record, error) {
	var records []memory.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
