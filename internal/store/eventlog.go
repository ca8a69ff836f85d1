package store

import (
	"context"
	"fmt"
	"time"
)

// AppendEvent persists one audit entry as a plain insert with no uniqueness
// constraint. The audit logger writes one row per envelope it receives;
// envelopes its DropOldest subscription evicted under pressure are never
// written.
func (s *Store) AppendEvent(ctx context.Context, rec *EventLogRecord) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO event_log (category, event_type, subject_id, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Category, rec.EventType, rec.SubjectID, rec.Detail, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	rec.ID = id
	return nil
}

// ListEvents returns up to limit most recent audit entries for subjectID
// (or for all subjects, if subjectID is empty).
func (s *Store) ListEvents(ctx context.Context, subjectID string, limit int) ([]*EventLogRecord, error) {
	q := `
		SELECT id, category, event_type, subject_id, detail, occurred_at
		FROM event_log WHERE 1=1
	`
	var args []any
	if subjectID != "" {
		q += " AND subject_id = ?"
		args = append(args, subjectID)
	}
	q += " ORDER BY id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.querierFor(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []*EventLogRecord
	for rows.Next() {
		var rec EventLogRecord
		if err := rows.Scan(&rec.ID, &rec.Category, &rec.EventType, &rec.SubjectID, &rec.Detail, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("store: list events: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
