package tasksvc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sergeant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st, NewNotifier(), config.TestLongPoll())
}

func TestCreateAndGetStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, "implementer", "write the thing", 0, "")
	require.NoError(t, err)

	got, err := svc.GetStatus(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, store.WorkItemPending, got.Status)
}

func TestGetNextTaskReturnsImmediatelyWhenPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, "implementer", "p", 0, "")
	require.NoError(t, err)

	got, err := svc.GetNextTask(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, item.ID, got.ID)
}

func TestGetNextTaskWakesOnLateCreate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	resultCh := make(chan *store.WorkItem, 1)
	errCh := make(chan error, 1)
	go func() {
		item, err := svc.GetNextTask(ctx, "agent-1", "implementer")
		resultCh <- item
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	created, err := svc.Create(ctx, "implementer", "late", 0, "")
	require.NoError(t, err)

	select {
	case got := <-resultCh:
		require.NoError(t, <-errCh)
		require.NotNil(t, got)
		require.Equal(t, created.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("GetNextTask did not wake up for the newly created task")
	}
}

func TestGetNextTaskTimesOutWithNoWork(t *testing.T) {
	svc := newTestService(t)
	got, err := svc.GetNextTask(context.Background(), "agent-1", "implementer")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetNextTaskHonorsContextCancellation(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	got, err := svc.GetNextTask(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCompleteHasNoOwnershipCheck(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, "implementer", "p", 0, "")
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	require.Equal(t, item.ID, claimed.ID)

	// spec.md §4.5.4 gates Complete/Fail on the item's status alone; any
	// caller may report completion regardless of which agent claimed it.
	require.NoError(t, svc.Complete(ctx, item.ID, "done"))

	got, err := svc.GetStatus(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, store.WorkItemCompleted, got.Status)

	require.Error(t, svc.Complete(ctx, item.ID, "again"))
}

func TestListByAgentAndStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "implementer", "a", 0, "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "implementer", "b", 0, "")
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, "agent-1", "implementer")
	require.NoError(t, err)
	require.Equal(t, a.ID, claimed.ID)

	inProgress, err := svc.ListByAgentAndStatus(ctx, "agent-1", store.WorkItemInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	require.Equal(t, a.ID, inProgress[0].ID)
}
