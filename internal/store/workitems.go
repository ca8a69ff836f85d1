package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coopforge/sergeant/internal/sergeanterr"
)

// CreateWorkItem inserts a new work item with status pending. If item.ID is
// empty a uuid is generated, mirroring RegisterAgent's self-assigning ID
// pattern in the teacher's operational store.
func (s *Store) CreateWorkItem(ctx context.Context, item *WorkItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Persona == "" {
		return sergeanterr.Validation("persona", "must not be empty")
	}

	now := time.Now()
	item.Status = WorkItemPending
	item.CreatedAt = now
	item.UpdatedAt = now

	var preassignedAgent sql.NullString
	if item.AgentID != "" {
		preassignedAgent = sql.NullString{String: item.AgentID, Valid: true}
	}

	q := `
		INSERT INTO work_items (
			id, persona, payload, status, agent_id, priority, result,
			failure_reason, attempt, created_at, updated_at, claimed_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, '', '', 0, ?, ?, NULL, NULL)
	`
	_, err := s.querierFor(ctx).ExecContext(ctx, q,
		item.ID, item.Persona, item.Payload, item.Status, preassignedAgent, item.Priority,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create work item: %w", err)
	}
	return nil
}

// ClaimNextWorkItem atomically claims the highest-priority (then oldest)
// pending work item for persona, if any, via a conditional UPDATE guarded
// by status = 'pending'. A zero rows-affected result means another caller
// won the race (or nothing is pending); the caller should treat that as
// ErrRaceLost / "nothing available", never as an error surfaced to a client.
// This is the teacher's ClaimTask pattern (internal/memory/operational.go)
// generalized with a priority/age ORDER BY and a SELECT-then-conditional-
// UPDATE to pick a specific row rather than claiming by known ID.
func (s *Store) ClaimNextWorkItem(ctx context.Context, agentID, persona string) (*WorkItem, error) {
	q := s.querierFor(ctx)

	var id string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM work_items
		WHERE status = ? AND persona = ? AND (agent_id IS NULL OR agent_id = ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, WorkItemPending, persona, agentID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find claimable work item: %w", err)
	}

	now := time.Now()
	res, err := q.ExecContext(ctx, `
		UPDATE work_items
		SET status = ?, agent_id = ?, attempt = attempt + 1, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, WorkItemInProgress, agentID, now, now, id, WorkItemPending)
	if err != nil {
		return nil, fmt.Errorf("store: claim work item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: claim work item: %w", err)
	}
	if rows == 0 {
		return nil, sergeanterr.ErrRaceLost
	}

	return s.GetWorkItem(ctx, id)
}

// CompleteWorkItem marks item as completed with the given result. Allowed
// from Pending, InProgress, or Failed; rejected with a ConflictError
// ("already completed") if the row is already Completed (spec.md §4.5.4).
func (s *Store) CompleteWorkItem(ctx context.Context, id, result string) error {
	return s.finishWorkItem(ctx, id, WorkItemCompleted, result, "",
		[]WorkItemStatus{WorkItemPending, WorkItemInProgress, WorkItemFailed}, "already completed")
}

// FailWorkItem marks item as failed with the given reason. Allowed from any
// non-terminal status (Pending or InProgress); rejected with a
// ConflictError if the row is already terminal.
func (s *Store) FailWorkItem(ctx context.Context, id, reason string) error {
	return s.finishWorkItem(ctx, id, WorkItemFailed, "", reason,
		[]WorkItemStatus{WorkItemPending, WorkItemInProgress}, "already terminal")
}

func (s *Store) finishWorkItem(ctx context.Context, id string, status WorkItemStatus, result, reason string, allowedFrom []WorkItemStatus, conflictReason string) error {
	q := s.querierFor(ctx)
	now := time.Now()

	placeholders := make([]string, len(allowedFrom))
	args := []any{status, result, reason, now, now, id}
	for i, st := range allowedFrom {
		placeholders[i] = "?"
		args = append(args, st)
	}

	query := fmt.Sprintf(`
		UPDATE work_items
		SET status = ?, result = ?, failure_reason = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: finish work item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish work item: %w", err)
	}
	if rows == 0 {
		existing, getErr := s.GetWorkItem(ctx, id)
		if getErr != nil {
			return getErr
		}
		return sergeanterr.Conflict("work_item", id,
			fmt.Sprintf("%s (status=%s)", conflictReason, existing.Status))
	}
	return nil
}

// ReclaimAgentWorkItems fails every in_progress item owned by agentID,
// stamping reason on each, and returns their IDs. Used by agent Kill to
// reclaim abandoned work within the same write scope as the kill itself.
func (s *Store) ReclaimAgentWorkItems(ctx context.Context, agentID, reason string) ([]string, error) {
	q := s.querierFor(ctx)

	rows, err := q.QueryContext(ctx, `
		SELECT id FROM work_items WHERE agent_id = ? AND status = ?
	`, agentID, WorkItemInProgress)
	if err != nil {
		return nil, fmt.Errorf("store: list agent work items: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: list agent work items: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	now := time.Now()
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `
			UPDATE work_items
			SET status = ?, failure_reason = ?, completed_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, WorkItemFailed, reason, now, now, id, WorkItemInProgress); err != nil {
			return nil, fmt.Errorf("store: reclaim work item %s: %w", id, err)
		}
	}
	return ids, nil
}

// GetWorkItem fetches a work item by ID.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx, `
		SELECT id, persona, payload, status, agent_id, priority, result,
		       failure_reason, attempt, created_at, updated_at, claimed_at, completed_at
		FROM work_items WHERE id = ?
	`, id)

	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, sergeanterr.NotFound("work_item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get work item: %w", err)
	}
	return item, nil
}

// ListWorkItems returns work items matching filter, most recently created
// first.
func (s *Store) ListWorkItems(ctx context.Context, filter WorkItemFilter) ([]*WorkItem, error) {
	q := `
		SELECT id, persona, payload, status, agent_id, priority, result,
		       failure_reason, attempt, created_at, updated_at, claimed_at, completed_at
		FROM work_items WHERE 1=1
	`
	var args []any
	if filter.Status != "" {
		q += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.AgentID != "" {
		q += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Persona != "" {
		q += " AND persona = ?"
		args = append(args, filter.Persona)
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.querierFor(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list work items: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list work items: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*WorkItem, error) {
	var item WorkItem
	var agentID, result, failureReason sql.NullString
	var claimedAt, completedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.Persona, &item.Payload, &item.Status, &agentID,
		&item.Priority, &result, &failureReason, &item.Attempt,
		&item.CreatedAt, &item.UpdatedAt, &claimedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	item.AgentID = agentID.String
	item.Result = result.String
	item.FailureReason = failureReason.String
	if claimedAt.Valid {
		item.ClaimedAt = &claimedAt.Time
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return &item, nil
}
