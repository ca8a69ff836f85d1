package opsurface

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/memorysvc"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sergeant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tasks := tasksvc.NewService(st, tasksvc.NewNotifier(), config.TestLongPoll())
	agents := agentsvc.NewService(st, agentsvc.NewNotifier(), tasks.Notifier())
	memory := memorysvc.NewService(st)

	return New(tasks, agents, memory, nil)
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	result := s.CreateTask(ctx, CreateTaskRequest{})
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)

	result = s.CreateTask(ctx, CreateTaskRequest{PersonaID: "implementer", Description: "do a thing"})
	require.True(t, result.Success)
	require.NotEmpty(t, result.TaskID)
}

func TestGetNextTaskReturnsRequerySentinelOnTimeout(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	agent, err := s.Agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)

	result := s.GetNextTask(ctx, GetNextTaskRequest{AgentID: agent.ID, TimeoutMs: 20})
	require.True(t, result.Success)
	require.NotNil(t, result.Task)
	require.Equal(t, requeryPrefix+agent.ID, result.Task.ID)
}

func TestGetNextTaskClaimsPendingWork(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	agent, err := s.Agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)

	created := s.CreateTask(ctx, CreateTaskRequest{PersonaID: "implementer", Description: "do it"})
	require.True(t, created.Success)

	result := s.GetNextTask(ctx, GetNextTaskRequest{AgentID: agent.ID, TimeoutMs: 500})
	require.True(t, result.Success)
	require.NotNil(t, result.Task)
	require.Equal(t, created.TaskID, result.Task.ID)
	require.Equal(t, "in_progress", result.Task.Status)
}

func TestGetNextTaskRejectsKilledAgent(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	agent, err := s.Agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	_, err = s.Agents.Kill(ctx, agent.ID, "testing")
	require.NoError(t, err)

	result := s.GetNextTask(ctx, GetNextTaskRequest{AgentID: agent.ID})
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}

func TestReportTaskCompletionAndFailure(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	agent, err := s.Agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	created := s.CreateTask(ctx, CreateTaskRequest{PersonaID: "implementer", Description: "x"})
	claimed := s.GetNextTask(ctx, GetNextTaskRequest{AgentID: agent.ID, TimeoutMs: 500})
	require.Equal(t, created.TaskID, claimed.Task.ID)

	completion := s.ReportTaskCompletion(ctx, created.TaskID, "done")
	require.True(t, completion.Success)

	task, err := s.GetTaskStatus(ctx, created.TaskID)
	require.NoError(t, err)
	require.Equal(t, "completed", task.Status)
	require.Equal(t, "done", task.Result)

	failure := s.ReportTaskFailure(ctx, created.TaskID, "already completed")
	require.False(t, failure.Success)
	require.NotEmpty(t, failure.Error)
}

func TestSaveAndReadMemory(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	save := s.SaveMemory(ctx, SaveMemoryRequest{Key: "k", Value: "v", Namespace: "ns"})
	require.True(t, save.Success)

	entry, err := s.ReadMemory(ctx, "k", "ns")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "v", entry.Value)

	missing, err := s.ReadMemory(ctx, "nope", "ns")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestKillAgentWithoutLauncherStillReclaims(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	agent, err := s.Agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	created := s.CreateTask(ctx, CreateTaskRequest{PersonaID: "implementer", Description: "x"})
	claimed := s.GetNextTask(ctx, GetNextTaskRequest{AgentID: agent.ID, TimeoutMs: 500})
	require.Equal(t, created.TaskID, claimed.Task.ID)

	result := s.KillAgent(ctx, agent.ID)
	require.True(t, result.Success)

	task, err := s.GetTaskStatus(ctx, created.TaskID)
	require.NoError(t, err)
	require.Equal(t, "failed", task.Status)
}

func TestLaunchAgentWithoutLauncherFails(t *testing.T) {
	s := newTestSurface(t)
	result := s.LaunchAgent(context.Background(), LaunchAgentRequest{PersonaID: "implementer"})
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}
