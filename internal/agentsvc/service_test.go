package agentsvc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
)

func newTestServices(t *testing.T) (*Service, *tasksvc.Service) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sergeant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	taskNotifier := tasksvc.NewNotifier()
	tasks := tasksvc.NewService(st, taskNotifier, config.TestLongPoll())
	agents := NewService(st, NewNotifier(), taskNotifier)
	return agents, tasks
}

func TestRegisterAndMarkRunning(t *testing.T) {
	agents, _ := newTestServices(t)
	ctx := context.Background()

	agent, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	require.Equal(t, store.AgentStarting, agent.Status)

	require.NoError(t, agents.MarkRunning(ctx, agent.ID))

	got, err := agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, store.AgentRunning, got.Status)
}

func TestMarkRunningRejectsWrongState(t *testing.T) {
	agents, _ := newTestServices(t)
	ctx := context.Background()

	agent, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	require.NoError(t, agents.MarkRunning(ctx, agent.ID))

	err = agents.MarkRunning(ctx, agent.ID)
	require.Error(t, err)
}

func TestKillReclaimsOnlyThatAgentsInProgressWork(t *testing.T) {
	agents, tasks := newTestServices(t)
	ctx := context.Background()

	agentA, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	agentB, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)

	itemA, err := tasks.Create(ctx, "implementer", "a", 0, "")
	require.NoError(t, err)
	itemB, err := tasks.Create(ctx, "implementer", "b", 0, "")
	require.NoError(t, err)
	itemPending, err := tasks.Create(ctx, "implementer", "c", 0, "")
	require.NoError(t, err)

	claimedA, err := tasks.Claim(ctx, agentA.ID, "implementer")
	require.NoError(t, err)
	require.Equal(t, itemA.ID, claimedA.ID)

	claimedB, err := tasks.Claim(ctx, agentB.ID, "implementer")
	require.NoError(t, err)
	require.Equal(t, itemB.ID, claimedB.ID)

	reclaimed, err := agents.Kill(ctx, agentA.ID, "operator requested shutdown")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{itemA.ID}, reclaimed)

	gotA, err := tasks.GetStatus(ctx, itemA.ID)
	require.NoError(t, err)
	require.Equal(t, store.WorkItemFailed, gotA.Status)
	require.Contains(t, gotA.FailureReason, "agent-terminated")

	gotB, err := tasks.GetStatus(ctx, itemB.ID)
	require.NoError(t, err)
	require.Equal(t, store.WorkItemInProgress, gotB.Status)

	gotPending, err := tasks.GetStatus(ctx, itemPending.ID)
	require.NoError(t, err)
	require.Equal(t, store.WorkItemPending, gotPending.Status)

	killedAgent, err := agents.Get(ctx, agentA.ID)
	require.NoError(t, err)
	require.Equal(t, store.AgentKilled, killedAgent.Status)
}

func TestKillTwiceIsRejected(t *testing.T) {
	agents, _ := newTestServices(t)
	ctx := context.Background()

	agent, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)

	_, err = agents.Kill(ctx, agent.ID, "first")
	require.NoError(t, err)

	_, err = agents.Kill(ctx, agent.ID, "second")
	require.Error(t, err)
}

func TestKillOfUnknownAgentIsANoOp(t *testing.T) {
	agents, _ := newTestServices(t)

	reclaimed, err := agents.Kill(context.Background(), "no-such-agent", "operator requested shutdown")
	require.NoError(t, err)
	require.Nil(t, reclaimed)
}

func TestUpdateHeartbeatImplicitlyMarksRunning(t *testing.T) {
	agents, _ := newTestServices(t)
	ctx := context.Background()

	agent, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)
	require.Equal(t, store.AgentStarting, agent.Status)

	found, err := agents.UpdateHeartbeat(ctx, agent.ID)
	require.NoError(t, err)
	require.True(t, found)

	got, err := agents.Get(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, store.AgentRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestUpdateHeartbeatOfUnknownAgentIsANoOp(t *testing.T) {
	agents, _ := newTestServices(t)

	found, err := agents.UpdateHeartbeat(context.Background(), "no-such-agent")
	require.NoError(t, err)
	require.False(t, found)
}
