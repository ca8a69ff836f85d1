// Package opsurface implements spec.md §6.1 as a transport-agnostic Go API:
// one method per operation, taking and returning plain structs. It is the
// seam a tool-invocation transport would attach to; this package is
// deliberately free of any RPC framework, HTTP included — cmd/sergeantd
// wraps it with a minimal HTTP+JSON mux for manual exercise.
package opsurface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/launcher"
	"github.com/coopforge/sergeant/internal/memorysvc"
	"github.com/coopforge/sergeant/internal/sergeanterr"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
)

// requeryPrefix is the well-known sentinel prefix get_next_task returns
// instead of an error when no work became available before the deadline
// (spec.md §6.1).
const requeryPrefix = "system:requery:"

// Surface wires the three domain services and the launcher behind the
// operation table. Launcher may be nil when sergeantd runs without local
// subprocess launching (e.g. agents connect from elsewhere); LaunchAgent
// and KillAgent's subprocess-stop step then degrade to kernel-only effects.
type Surface struct {
	Tasks    *tasksvc.Service
	Agents   *agentsvc.Service
	Memory   *memorysvc.Service
	Launcher *launcher.PersonaLauncher
}

// New constructs a Surface.
func New(tasks *tasksvc.Service, agents *agentsvc.Service, memory *memorysvc.Service, l *launcher.PersonaLauncher) *Surface {
	return &Surface{Tasks: tasks, Agents: agents, Memory: memory, Launcher: l}
}

// TaskView is the wire shape of a work item.
type TaskView struct {
	ID            string     `json:"id"`
	PersonaID     string     `json:"personaId"`
	Description   string     `json:"description"`
	AgentID       string     `json:"agentId,omitempty"`
	Priority      int        `json:"priority"`
	Status        string     `json:"status"`
	Result        string     `json:"result,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func toTaskView(item *store.WorkItem) *TaskView {
	if item == nil {
		return nil
	}
	return &TaskView{
		ID:            item.ID,
		PersonaID:     item.Persona,
		Description:   item.Payload,
		AgentID:       item.AgentID,
		Priority:      item.Priority,
		Status:        string(item.Status),
		Result:        item.Result,
		FailureReason: item.FailureReason,
		CreatedAt:     item.CreatedAt,
		StartedAt:     item.ClaimedAt,
		CompletedAt:   item.CompletedAt,
	}
}

// AgentView is the wire shape of an agent.
type AgentView struct {
	ID          string     `json:"id"`
	PersonaID   string     `json:"personaId"`
	PID         *int       `json:"processId,omitempty"`
	Status      string     `json:"status"`
	KillReason  string     `json:"killReason,omitempty"`
	CreatedAt   time.Time  `json:"registeredAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	HeartbeatAt *time.Time `json:"lastHeartbeat,omitempty"`
}

func toAgentView(a *store.Agent) *AgentView {
	if a == nil {
		return nil
	}
	return &AgentView{
		ID:          a.ID,
		PersonaID:   a.Persona,
		PID:         a.PID,
		Status:      string(a.Status),
		KillReason:  a.KillReason,
		CreatedAt:   a.CreatedAt,
		StartedAt:   a.StartedAt,
		HeartbeatAt: a.HeartbeatAt,
	}
}

// CreateTaskRequest is the create_task input.
type CreateTaskRequest struct {
	PersonaID   string `json:"personaId"`
	Description string `json:"description"`
	AgentID     string `json:"agentId,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// CreateTaskResult is the create_task output.
type CreateTaskResult struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateTask inserts a new pending work item and publishes Created.
func (s *Surface) CreateTask(ctx context.Context, req CreateTaskRequest) CreateTaskResult {
	if req.PersonaID == "" || req.Description == "" {
		return CreateTaskResult{Error: "personaId and description are required"}
	}
	item, err := s.Tasks.Create(ctx, req.PersonaID, req.Description, req.Priority, req.AgentID)
	if err != nil {
		return CreateTaskResult{Error: errMessage(err)}
	}
	return CreateTaskResult{Success: true, TaskID: item.ID}
}

// GetNextTaskRequest is the get_next_task input.
type GetNextTaskRequest struct {
	AgentID   string `json:"agentId"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// GetNextTaskResult is the get_next_task output. Task is the synthetic
// system:requery placeholder when no work became available before the
// deadline.
type GetNextTaskResult struct {
	Success bool      `json:"success"`
	Task    *TaskView `json:"task,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// GetNextTask implements the long-poll dispatcher operation. A positive
// TimeoutMs bounds the wait to that many milliseconds (never longer than the
// service's configured wait). A TimeoutMs of 0, which is also what an absent
// value decodes to, leaves the service's configured wait in force; there is
// no return-after-one-attempt setting.
func (s *Surface) GetNextTask(ctx context.Context, req GetNextTaskRequest) GetNextTaskResult {
	if req.AgentID == "" {
		return GetNextTaskResult{Error: "agentId is required"}
	}
	if req.TimeoutMs < 0 {
		return GetNextTaskResult{Error: "timeoutMs must not be negative"}
	}

	agent, err := s.Agents.Get(ctx, req.AgentID)
	if err != nil {
		return GetNextTaskResult{Error: errMessage(err)}
	}
	if agent.Status == store.AgentKilled || agent.Status == store.AgentStopped {
		return GetNextTaskResult{Error: fmt.Sprintf("agent %s is not in a working status", req.AgentID)}
	}

	// spec.md §4.5.3 step 2: every get_next_task call bumps the agent's
	// heartbeat and implicitly marks Starting agents Running on first poll.
	if _, err := s.Agents.UpdateHeartbeat(ctx, req.AgentID); err != nil {
		return GetNextTaskResult{Error: errMessage(err)}
	}

	waitCtx := ctx
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	item, err := s.Tasks.GetNextTask(waitCtx, req.AgentID, agent.Persona)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return GetNextTaskResult{Error: errMessage(err)}
	}
	if item == nil {
		return GetNextTaskResult{Success: true, Task: &TaskView{ID: requeryPrefix + req.AgentID}}
	}
	return GetNextTaskResult{Success: true, Task: toTaskView(item)}
}

// GetTaskStatus implements get_task_status.
func (s *Surface) GetTaskStatus(ctx context.Context, taskID string) (*TaskView, error) {
	item, err := s.Tasks.GetStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return toTaskView(item), nil
}

// GetTasksByStatus implements get_tasks_by_status.
func (s *Surface) GetTasksByStatus(ctx context.Context, status string) ([]*TaskView, error) {
	items, err := s.Tasks.ListByStatus(ctx, store.WorkItemStatus(status))
	if err != nil {
		return nil, err
	}
	return toTaskViews(items), nil
}

// GetTasksByAgentID implements get_tasks_by_agent_id.
func (s *Surface) GetTasksByAgentID(ctx context.Context, agentID string) ([]*TaskView, error) {
	items, err := s.Tasks.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return toTaskViews(items), nil
}

// GetTasksByAgentIDAndStatus implements get_tasks_by_agent_id_and_status.
func (s *Surface) GetTasksByAgentIDAndStatus(ctx context.Context, agentID, status string) ([]*TaskView, error) {
	items, err := s.Tasks.ListByAgentAndStatus(ctx, agentID, store.WorkItemStatus(status))
	if err != nil {
		return nil, err
	}
	return toTaskViews(items), nil
}

func toTaskViews(items []*store.WorkItem) []*TaskView {
	views := make([]*TaskView, 0, len(items))
	for _, it := range items {
		views = append(views, toTaskView(it))
	}
	return views
}

// OpResult is the common { success, error? } shape for report_task_* and
// kill_agent.
type OpResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ReportTaskCompletion implements report_task_completion. spec.md §6.1
// takes only taskId and result — there is no agentId ownership parameter.
func (s *Surface) ReportTaskCompletion(ctx context.Context, taskID, result string) OpResult {
	if err := s.Tasks.Complete(ctx, taskID, result); err != nil {
		return OpResult{Error: errMessage(err)}
	}
	return OpResult{Success: true}
}

// ReportTaskFailure implements report_task_failure. Same shape as
// ReportTaskCompletion: taskId and errorMessage only.
func (s *Surface) ReportTaskFailure(ctx context.Context, taskID, errorMessage string) OpResult {
	if err := s.Tasks.Fail(ctx, taskID, errorMessage); err != nil {
		return OpResult{Error: errMessage(err)}
	}
	return OpResult{Success: true}
}

// ListAgents implements list_agents.
func (s *Surface) ListAgents(ctx context.Context, personaFilter string) ([]*AgentView, error) {
	agents, err := s.Agents.List(ctx, store.AgentFilter{Persona: personaFilter})
	if err != nil {
		return nil, err
	}
	views := make([]*AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	return views, nil
}

// LaunchAgentRequest is the launch_agent input. WorktreeName, Model and Yolo
// are accepted for wire compatibility with the operation table but are not
// used: LaunchAgent passes only PersonaID to the launcher, which runs the
// persona's configured command, and uses Description for the agent's
// initial work item.
type LaunchAgentRequest struct {
	PersonaID    string `json:"personaId"`
	Description  string `json:"description"`
	WorktreeName string `json:"worktreeName,omitempty"`
	Model        string `json:"model,omitempty"`
	Yolo         bool   `json:"yolo,omitempty"`
}

// LaunchAgentResult is the launch_agent output.
type LaunchAgentResult struct {
	Success bool   `json:"success"`
	AgentID string `json:"agentId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LaunchAgent delegates subprocess spawn to the configured launcher, then
// creates the initial work item describing what the agent should do.
func (s *Surface) LaunchAgent(ctx context.Context, req LaunchAgentRequest) LaunchAgentResult {
	if s.Launcher == nil {
		return LaunchAgentResult{Error: "no launcher configured for this server"}
	}
	if req.PersonaID == "" {
		return LaunchAgentResult{Error: "personaId is required"}
	}

	agent, err := s.Launcher.Launch(ctx, req.PersonaID)
	if err != nil {
		return LaunchAgentResult{Error: errMessage(err)}
	}

	if req.Description != "" {
		if _, err := s.Tasks.Create(ctx, req.PersonaID, req.Description, 0, agent.ID); err != nil {
			return LaunchAgentResult{Success: true, AgentID: agent.ID, Error: fmt.Sprintf("agent launched but initial task failed: %s", errMessage(err))}
		}
	}

	return LaunchAgentResult{Success: true, AgentID: agent.ID}
}

// KillAgent implements kill_agent: atomic reclaim of in-progress work plus,
// when a launcher is configured, termination of the backing subprocess.
func (s *Surface) KillAgent(ctx context.Context, agentID string) OpResult {
	var err error
	if s.Launcher != nil {
		_, err = s.Launcher.Kill(ctx, agentID, "kill_agent requested")
	} else {
		_, err = s.Agents.Kill(ctx, agentID, "kill_agent requested")
	}
	if err != nil {
		return OpResult{Error: errMessage(err)}
	}
	return OpResult{Success: true}
}

// SaveMemoryRequest is the save_memory input. Type and Metadata are
// accepted for wire compatibility; this kernel's MemoryEntry (spec.md §4.7)
// carries only value, so they are folded into value's caller-defined
// encoding rather than stored as separate columns.
type SaveMemoryRequest struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type,omitempty"`
	Metadata  string `json:"metadata,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// SaveMemoryResult is the save_memory output.
type SaveMemoryResult struct {
	Success   bool   `json:"success"`
	Key       string `json:"key,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SaveMemory implements save_memory.
func (s *Surface) SaveMemory(ctx context.Context, req SaveMemoryRequest) SaveMemoryResult {
	if req.Key == "" {
		return SaveMemoryResult{Error: "key is required"}
	}
	if err := s.Memory.Save(ctx, req.Namespace, req.Key, req.Value); err != nil {
		return SaveMemoryResult{Error: errMessage(err)}
	}
	return SaveMemoryResult{Success: true, Key: req.Key, Namespace: req.Namespace}
}

// MemoryView is the wire shape of a memory entry.
type MemoryView struct {
	Key            string     `json:"key"`
	Namespace      string     `json:"namespace"`
	Value          string     `json:"value"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

// ReadMemory implements read_memory, bumping lastAccessedAt on hit. Returns
// (nil, nil) for a not-found key, matching spec.md §6.1's "memory entry or
// not-found" output shape rather than an error.
func (s *Surface) ReadMemory(ctx context.Context, key, namespace string) (*MemoryView, error) {
	value, err := s.Memory.Read(ctx, namespace, key)
	if err != nil {
		if sergeanterr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	entry, err := s.Memory.Entry(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	return &MemoryView{
		Key:            entry.Key,
		Namespace:      entry.Namespace,
		Value:          value,
		CreatedAt:      entry.CreatedAt,
		UpdatedAt:      entry.UpdatedAt,
		LastAccessedAt: entry.LastAccessedAt,
	}, nil
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
