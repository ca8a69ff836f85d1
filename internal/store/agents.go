package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coopforge/sergeant/internal/sergeanterr"
)

// RegisterAgent inserts a new agent record with status starting, following
// the teacher's RegisterAgent (internal/memory/operational.go).
func (s *Store) RegisterAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Persona == "" {
		return sergeanterr.Validation("persona", "must not be empty")
	}

	now := time.Now()
	agent.Status = AgentStarting
	agent.CreatedAt = now
	agent.UpdatedAt = now

	var pid sql.NullInt64
	if agent.PID != nil {
		pid = sql.NullInt64{Int64: int64(*agent.PID), Valid: true}
	}

	_, err := s.querierFor(ctx).ExecContext(ctx, `
		INSERT INTO agents (id, persona, pid, status, kill_reason, started_at, heartbeat_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', NULL, NULL, ?, ?)
	`, agent.ID, agent.Persona, pid, agent.Status, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: register agent: %w", err)
	}
	return nil
}

// UpdateAgentStatus transitions an agent to status, guarded by the given
// expected current statuses (if any are given; an empty list means
// unconditional). Returns ErrRaceLost-shaped ConflictError if the guard
// fails.
func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status AgentStatus, expected ...AgentStatus) error {
	q := s.querierFor(ctx)
	now := time.Now()

	query := `UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`
	args := []any{status, now, id}
	if len(expected) > 0 {
		placeholders := ""
		for i, st := range expected {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, st)
		}
		query += fmt.Sprintf(" AND status IN (%s)", placeholders)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: update agent status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update agent status: %w", err)
	}
	if rows == 0 {
		existing, getErr := s.GetAgent(ctx, id)
		if getErr != nil {
			return getErr
		}
		return sergeanterr.Conflict("agent", id, fmt.Sprintf("not in an expected state (status=%s)", existing.Status))
	}
	return nil
}

// UpdateHeartbeat bumps heartbeat_at to now and, if the agent is currently
// Starting, implicitly transitions it to Running and stamps started_at
// (spec.md §4.6). found reports whether the agent exists at all; transitioned
// reports whether the implicit Starting->Running transition happened, so the
// caller knows whether a StatusChanged event is warranted.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) (found, transitioned bool, err error) {
	q := s.querierFor(ctx)

	var status AgentStatus
	err = q.QueryRowContext(ctx, `SELECT status FROM agents WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("store: update heartbeat: %w", err)
	}

	now := time.Now()
	if status == AgentStarting {
		res, err := q.ExecContext(ctx, `
			UPDATE agents SET status = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, AgentRunning, now, now, now, id, AgentStarting)
		if err != nil {
			return false, false, fmt.Errorf("store: update heartbeat: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			return true, true, nil
		}
		// Lost a race with a concurrent transition; fall through to a plain
		// heartbeat bump below.
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE agents SET heartbeat_at = ?, updated_at = ? WHERE id = ?
	`, now, now, id); err != nil {
		return false, false, fmt.Errorf("store: update heartbeat: %w", err)
	}
	return true, false, nil
}

// MarkAgentRunning transitions an agent from Starting to Running, stamping
// started_at (spec.md §4.6: "MarkRunning ... sets startedAt if unset").
// Guarded the same way UpdateAgentStatus is: a non-Starting current status
// is a ConflictError.
func (s *Store) MarkAgentRunning(ctx context.Context, id string) error {
	now := time.Now()
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE agents SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?
	`, AgentRunning, now, now, id, AgentStarting)
	if err != nil {
		return fmt.Errorf("store: mark agent running: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark agent running: %w", err)
	}
	if rows == 0 {
		existing, getErr := s.GetAgent(ctx, id)
		if getErr != nil {
			return getErr
		}
		return sergeanterr.Conflict("agent", id, fmt.Sprintf("not in an expected state (status=%s)", existing.Status))
	}
	return nil
}

// KillAgent marks agent as killed with reason. It does not itself reclaim
// work items; callers run it inside the same WriteScope as
// ReclaimAgentWorkItems so both commit atomically. Killing an unknown agent
// id is a no-op (spec.md §4.6: "no throw, no rows changed"); killed reports
// whether this call actually performed the transition.
func (s *Store) KillAgent(ctx context.Context, id, reason string) (killed bool, err error) {
	now := time.Now()
	res, err := s.querierFor(ctx).ExecContext(ctx, `
		UPDATE agents SET status = ?, kill_reason = ?, updated_at = ? WHERE id = ? AND status != ?
	`, AgentKilled, reason, now, id, AgentKilled)
	if err != nil {
		return false, fmt.Errorf("store: kill agent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: kill agent: %w", err)
	}
	if rows == 0 {
		_, getErr := s.GetAgent(ctx, id)
		if sergeanterr.IsNotFound(getErr) {
			return false, nil
		}
		if getErr != nil {
			return false, getErr
		}
		return false, sergeanterr.Conflict("agent", id, "already killed")
	}
	return true, nil
}

// GetAgent fetches an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.querierFor(ctx).QueryRowContext(ctx, `
		SELECT id, persona, pid, status, kill_reason, started_at, heartbeat_at, created_at, updated_at
		FROM agents WHERE id = ?
	`, id)

	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, sergeanterr.NotFound("agent", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns agents matching filter.
func (s *Store) ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error) {
	q := `
		SELECT id, persona, pid, status, kill_reason, started_at, heartbeat_at, created_at, updated_at
		FROM agents WHERE 1=1
	`
	var args []any
	if filter.Persona != "" {
		q += " AND persona = ?"
		args = append(args, filter.Persona)
	}
	if filter.Status != "" {
		q += " AND status = ?"
		args = append(args, filter.Status)
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.querierFor(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list agents: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (*Agent, error) {
	var agent Agent
	var pid sql.NullInt64
	var killReason sql.NullString
	var startedAt, heartbeatAt sql.NullTime

	err := row.Scan(&agent.ID, &agent.Persona, &pid, &agent.Status, &killReason,
		&startedAt, &heartbeatAt, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}

	agent.KillReason = killReason.String
	if pid.Valid {
		p := int(pid.Int64)
		agent.PID = &p
	}
	if startedAt.Valid {
		agent.StartedAt = &startedAt.Time
	}
	if heartbeatAt.Valid {
		agent.HeartbeatAt = &heartbeatAt.Time
	}
	return &agent, nil
}
