package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hive-mind/hivecore/internal/domain"
)

// UpsertMemory inserts or updates a memory_store row keyed by (namespace, key)
// (spec.md §4.2: "upsert keyed by (namespace, key)").
func (s *Store) UpsertMemory(ctx context.Context, e domain.MemoryEntry) error {
	tags, _ := json.Marshal(e.Tags)
	metadata, _ := json.Marshal(e.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_store (namespace, key, value, type, confidence, created_by, created_at,
			accessed_at, access_count, compressed, size, ttl_seconds, expires_at_epoch, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			type = excluded.type,
			confidence = excluded.confidence,
			accessed_at = excluded.accessed_at,
			compressed = excluded.compressed,
			size = excluded.size,
			ttl_seconds = excluded.ttl_seconds,
			expires_at_epoch = excluded.expires_at_epoch,
			tags = excluded.tags,
			metadata = excluded.metadata`,
		e.Namespace, e.Key, e.Value, string(e.Type), e.Confidence, e.CreatedBy,
		e.CreatedAt.Format(timeLayout), e.AccessedAt.Format(timeLayout), e.AccessCount,
		boolToInt(e.Compressed), e.Size, nullInt64(e.TTLSeconds), nullInt64(e.ExpiresAtEpoch),
		string(tags), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// GetMemory fetches one memory entry, or ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, namespace, key string) (domain.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, memorySelectCols+` FROM memory_store WHERE namespace = ? AND key = ?`, namespace, key)
	return scanMemory(row)
}

// TouchMemory refreshes accessed_at and increments access_count on a hit
// (spec.md §4.2: "On hit, accessedAt is refreshed and accessCount incremented").
func (s *Store) TouchMemory(ctx context.Context, namespace, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memory_store SET accessed_at = ?, access_count = access_count + 1 WHERE namespace = ? AND key = ?`,
		at.Format(timeLayout), namespace, key)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	return nil
}

// DeleteMemory removes one entry.
func (s *Store) DeleteMemory(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_store WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// ClearMemoryNamespace removes every entry in a namespace.
func (s *Store) ClearMemoryNamespace(ctx context.Context, namespace string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_store WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, fmt.Errorf("clear memory namespace: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListMemory lists entries in a namespace ordered by accessed_at desc
// (spec.md §4.2).
func (s *Store) ListMemory(ctx context.Context, namespace string, limit, offset int) ([]domain.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		memorySelectCols+` FROM memory_store WHERE namespace = ? ORDER BY accessed_at DESC LIMIT ? OFFSET ?`,
		namespace, limitOrDefault(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SearchMemoryParams narrows a SearchMemory call.
type SearchMemoryParams struct {
	Pattern   string // matched against key via LIKE
	Namespace string // empty means all namespaces
	Tags      []string
	Limit     int
	Offset    int
}

// SearchMemory is a pattern/namespace/tag filtered listing (spec.md §4.2).
func (s *Store) SearchMemory(ctx context.Context, p SearchMemoryParams) ([]domain.MemoryEntry, error) {
	query := memorySelectCols + ` FROM memory_store WHERE 1=1`
	var args []any

	if p.Namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, p.Namespace)
	}
	if p.Pattern != "" {
		query += ` AND key LIKE ?`
		args = append(args, "%"+p.Pattern+"%")
	}
	query += ` ORDER BY accessed_at DESC LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(p.Limit), p.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	entries, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(p.Tags) == 0 {
		return entries, nil
	}

	filtered := entries[:0]
	for _, e := range entries {
		if hasAllTags(e.Tags, p.Tags) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// MemoryNamespaceStats is one row of per-namespace aggregate stats.
type MemoryNamespaceStats struct {
	Namespace  string
	EntryCount int64
	TotalBytes int64
}

// MemoryStats aggregates per-namespace counts and sizes (spec.md §4.2 stats()).
func (s *Store) MemoryStats(ctx context.Context) ([]MemoryNamespaceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, COUNT(*), COALESCE(SUM(size), 0) FROM memory_store GROUP BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("memory stats: %w", err)
	}
	defer rows.Close()

	var out []MemoryNamespaceStats
	for rows.Next() {
		var st MemoryNamespaceStats
		if err := rows.Scan(&st.Namespace, &st.EntryCount, &st.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan memory stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// GCExpiredMemory deletes every row whose expires_at_epoch <= nowEpoch and
// returns the count removed (spec.md §4.2 gc(), P2).
func (s *Store) GCExpiredMemory(ctx context.Context, nowEpoch int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_store WHERE expires_at_epoch IS NOT NULL AND expires_at_epoch <= ?`, nowEpoch)
	if err != nil {
		return 0, fmt.Errorf("gc expired memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const memorySelectCols = `SELECT namespace, key, value, type, confidence, created_by, created_at,
	accessed_at, access_count, compressed, size, ttl_seconds, expires_at_epoch, tags, metadata`

func scanMemories(rows *sql.Rows) ([]domain.MemoryEntry, error) {
	var out []domain.MemoryEntry
	for rows.Next() {
		e, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanMemory(row rowScanner) (domain.MemoryEntry, error) {
	var e domain.MemoryEntry
	var typ, createdAt, accessedAt, tags, metadata string
	var compressed int
	var ttl, expires sql.NullInt64

	err := row.Scan(&e.Namespace, &e.Key, &e.Value, &typ, &e.Confidence, &e.CreatedBy, &createdAt,
		&accessedAt, &e.AccessCount, &compressed, &e.Size, &ttl, &expires, &tags, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MemoryEntry{}, ErrNotFound
	}
	if err != nil {
		return domain.MemoryEntry{}, fmt.Errorf("scan memory: %w", err)
	}

	e.Type = domain.MemoryType(typ)
	e.Compressed = compressed != 0
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.AccessedAt, _ = time.Parse(timeLayout, accessedAt)
	_ = json.Unmarshal([]byte(tags), &e.Tags)
	_ = json.Unmarshal([]byte(metadata), &e.Metadata)
	if ttl.Valid {
		v := ttl.Int64
		e.TTLSeconds = &v
	}
	if expires.Valid {
		v := expires.Int64
		e.ExpiresAtEpoch = &v
	}
	return e, nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
