package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sergeant.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetWorkItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := &WorkItem{Persona: "implementer", Payload: "do the thing", Priority: 1}
	require.NoError(t, st.CreateWorkItem(ctx, item))
	require.NotEmpty(t, item.ID)

	got, err := st.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, WorkItemPending, got.Status)
	require.Equal(t, "implementer", got.Persona)
}

func TestGetWorkItemNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetWorkItem(context.Background(), "missing")
	require.Error(t, err)
}

func TestClaimNextWorkItemSingleWinner(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := &WorkItem{Persona: "implementer", Payload: "p"}
	require.NoError(t, st.CreateWorkItem(ctx, item))

	const agents = 8
	var wg sync.WaitGroup
	wins := make(chan string, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := st.ClaimNextWorkItem(ctx, "agent-"+string(rune('a'+n)), "implementer")
			if err != nil {
				return
			}
			if claimed != nil {
				wins <- claimed.AgentID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	var winner string
	for w := range wins {
		count++
		winner = w
	}
	require.Equal(t, 1, count)

	got, err := st.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, WorkItemInProgress, got.Status)
	require.Equal(t, winner, got.AgentID)
}

func TestClaimNextWorkItemNoneAvailable(t *testing.T) {
	st := newTestStore(t)
	claimed, err := st.ClaimNextWorkItem(context.Background(), "agent-1", "implementer")
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestCompleteWorkItemAllowedSourceStatuses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(ctx, item))
	claimed, err := st.ClaimNextWorkItem(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.NoError(t, st.CompleteWorkItem(ctx, item.ID, "done"))
	got, err := st.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, WorkItemCompleted, got.Status)
	require.Equal(t, "done", got.Result)

	// Already Completed is rejected.
	err = st.CompleteWorkItem(ctx, item.ID, "again")
	require.Error(t, err)
}

func TestCompleteWorkItemAllowsRecoveringAFailedItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(ctx, item))
	_, err := st.ClaimNextWorkItem(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	require.NoError(t, st.FailWorkItem(ctx, item.ID, "first attempt failed"))

	// spec.md §4.5.4: Complete is allowed from Pending, InProgress, or
	// Failed — only a prior Completed blocks it.
	require.NoError(t, st.CompleteWorkItem(ctx, item.ID, "done on retry"))
	got, err := st.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, WorkItemCompleted, got.Status)
}

func TestFailWorkItemRejectsTerminalStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(ctx, item))
	require.NoError(t, st.FailWorkItem(ctx, item.ID, "nope"))

	err := st.FailWorkItem(ctx, item.ID, "again")
	require.Error(t, err)
}

func TestReclaimAgentWorkItems(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := &WorkItem{Persona: "implementer"}
	b := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(ctx, a))
	require.NoError(t, st.CreateWorkItem(ctx, b))

	_, err := st.ClaimNextWorkItem(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	_, err = st.ClaimNextWorkItem(ctx, "agent-1", "implementer")
	require.NoError(t, err)

	ids, err := st.ReclaimAgentWorkItems(ctx, "agent-1", "agent terminated")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	gotA, err := st.GetWorkItem(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, WorkItemFailed, gotA.Status)
	require.Contains(t, gotA.FailureReason, "agent terminated")
}

func TestWriteScopeCommitsOnComplete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ws, err := st.WriteScope(ctx)
	require.NoError(t, err)
	item := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(ws.Context(), item))
	ws.Complete()
	require.NoError(t, ws.Close())

	_, err = st.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
}

func TestWriteScopeRollsBackWithoutComplete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ws, err := st.WriteScope(ctx)
	require.NoError(t, err)
	item := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(ws.Context(), item))
	require.NoError(t, ws.Close())

	_, err = st.GetWorkItem(ctx, item.ID)
	require.Error(t, err)
}

func TestNestedWriteScopeJoinsOuterTransaction(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	outer, err := st.WriteScope(ctx)
	require.NoError(t, err)

	inner, err := st.WriteScope(outer.Context())
	require.NoError(t, err)
	item := &WorkItem{Persona: "implementer"}
	require.NoError(t, st.CreateWorkItem(inner.Context(), item))
	inner.Complete()
	require.NoError(t, inner.Close())

	// Inner Close must not have committed: the item isn't visible outside
	// the still-open outer transaction.
	_, err = st.GetWorkItem(ctx, item.ID)
	require.Error(t, err)

	outer.Complete()
	require.NoError(t, outer.Close())

	_, err = st.GetWorkItem(ctx, item.ID)
	require.NoError(t, err)
}

func TestMemoryRoundTripBumpsAccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveMemory(ctx, "ns", "key", "value"))

	v, err := st.ReadMemory(ctx, "ns", "key")
	require.NoError(t, err)
	require.Equal(t, "value", v)

	entry, err := st.GetMemoryEntry(ctx, "ns", "key")
	require.NoError(t, err)
	require.Equal(t, 1, entry.AccessCount)
	require.NotNil(t, entry.LastAccessedAt)

	require.NoError(t, st.DeleteMemory(ctx, "ns", "key"))
	_, err = st.ReadMemory(ctx, "ns", "key")
	require.Error(t, err)
}

func TestAgentKillIsIdempotentlyRejectedWhenAlreadyKilled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := &Agent{Persona: "implementer"}
	require.NoError(t, st.RegisterAgent(ctx, agent))
	killed, err := st.KillAgent(ctx, agent.ID, "stop")
	require.NoError(t, err)
	require.True(t, killed)

	_, err = st.KillAgent(ctx, agent.ID, "stop again")
	require.Error(t, err)
}

func TestAgentKillOfUnknownIDIsANoOp(t *testing.T) {
	st := newTestStore(t)
	killed, err := st.KillAgent(context.Background(), "no-such-agent", "stop")
	require.NoError(t, err)
	require.False(t, killed)
}

func TestUpdateHeartbeatTransitionsStartingToRunning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := &Agent{Persona: "implementer"}
	require.NoError(t, st.RegisterAgent(ctx, agent))

	found, transitioned, err := st.UpdateHeartbeat(ctx, agent.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, transitioned)

	got, err := st.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, AgentRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.HeartbeatAt)

	found, transitioned, err = st.UpdateHeartbeat(ctx, agent.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, transitioned)
}

func TestUpdateHeartbeatOfUnknownIDIsANoOp(t *testing.T) {
	st := newTestStore(t)
	found, transitioned, err := st.UpdateHeartbeat(context.Background(), "no-such-agent")
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, transitioned)
}
