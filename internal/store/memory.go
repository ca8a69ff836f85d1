package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coopforge/sergeant/internal/sergeanterr"
)

// SaveMemory upserts (namespace, key) -> value. A save is not a read: a new
// entry starts with no recorded access, and an update changes only value and
// updated_at, leaving the existing access tracking as it is.
func (s *Store) SaveMemory(ctx context.Context, namespace, key, value string) error {
	if namespace == "" || key == "" {
		return sergeanterr.Validation("namespace/key", "must not be empty")
	}
	now := time.Now()

	_, err := s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO memory_entries (namespace, key, value, created_at, updated_at, last_accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, NULL, 0)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, namespace, key, value, now, now)
	if err != nil {
		return fmt.Errorf("store: save memory: %w", err)
	}
	return nil
}

// ReadMemory fetches the value at (namespace, key) and bumps its access
// tracking fields in the same call, mirroring the teacher's RecordHeartbeat
// read-and-stamp pattern.
func (s *Store) ReadMemory(ctx context.Context, namespace, key string) (string, error) {
	q := s.querierFor(ctx)

	var value string
	err := q.QueryRowContext(ctx, `
		SELECT value FROM memory_entries WHERE namespace = ? AND key = ?
	`, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", sergeanterr.NotFound("memory_entry", namespace+"/"+key)
	}
	if err != nil {
		return "", fmt.Errorf("store: read memory: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE memory_entries SET last_accessed_at = ?, access_count = access_count + 1
		WHERE namespace = ? AND key = ?
	`, time.Now(), namespace, key); err != nil {
		return "", fmt.Errorf("store: update memory access: %w", err)
	}

	return value, nil
}

// TouchMemoryAccess bumps (namespace, key)'s access tracking fields without
// reading or returning its value, for callers that only want to record
// access (spec.md §4.7's UpdateMemoryAccess).
func (s *Store) TouchMemoryAccess(ctx context.Context, namespace, key string) error {
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE memory_entries SET last_accessed_at = ?, access_count = access_count + 1
		WHERE namespace = ? AND key = ?
	`, time.Now(), namespace, key)
	if err != nil {
		return fmt.Errorf("store: touch memory access: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: touch memory access: %w", err)
	}
	if rows == 0 {
		return sergeanterr.NotFound("memory_entry", namespace+"/"+key)
	}
	return nil
}

// DeleteMemory removes (namespace, key), if present.
func (s *Store) DeleteMemory(ctx context.Context, namespace, key string) error {
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		DELETE FROM memory_entries WHERE namespace = ? AND key = ?
	`, namespace, key)
	if err != nil {
		return fmt.Errorf("store: delete memory: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete memory: %w", err)
	}
	if rows == 0 {
		return sergeanterr.NotFound("memory_entry", namespace+"/"+key)
	}
	return nil
}

// GetMemoryEntry fetches the full record at (namespace, key), without
// bumping access tracking. Used by diagnostics and tests.
func (s *Store) GetMemoryEntry(ctx context.Context, namespace, key string) (*MemoryEntry, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx, `
		SELECT namespace, key, value, created_at, updated_at, last_accessed_at, access_count
		FROM memory_entries WHERE namespace = ? AND key = ?
	`, namespace, key)

	var entry MemoryEntry
	var lastAccessedAt sql.NullTime
	err := row.Scan(&entry.Namespace, &entry.Key, &entry.Value, &entry.CreatedAt,
		&entry.UpdatedAt, &lastAccessedAt, &entry.AccessCount)
	if err == sql.ErrNoRows {
		return nil, sergeanterr.NotFound("memory_entry", namespace+"/"+key)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get memory entry: %w", err)
	}
	if lastAccessedAt.Valid {
		entry.LastAccessedAt = &lastAccessedAt.Time
	}
	return &entry, nil
}
