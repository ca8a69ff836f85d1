package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
)

func TestLoggerPersistsTaskAndAgentEvents(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sergeant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	taskNotifier := tasksvc.NewNotifier()
	agentNotifier := agentsvc.NewNotifier()
	tasks := tasksvc.NewService(st, taskNotifier, config.TestLongPoll())
	agents := agentsvc.NewService(st, agentNotifier, taskNotifier)

	logger := NewLogger(st)
	logger.Start(taskNotifier, agentNotifier)

	ctx := context.Background()
	_, err = tasks.Create(ctx, "implementer", "p", 0, "")
	require.NoError(t, err)
	agent, err := agents.Register(ctx, "implementer", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := st.ListEvents(ctx, "", 0)
		require.NoError(t, err)
		sawTask, sawAgent := false, false
		for _, e := range events {
			if e.Category == "task" {
				sawTask = true
			}
			if e.Category == "agent" && e.SubjectID == agent.ID {
				sawAgent = true
			}
		}
		return sawTask && sawAgent
	}, 2*time.Second, 10*time.Millisecond)

	taskNotifier.Bus().Dispose()
	agentNotifier.Bus().Dispose()
	logger.Shutdown(time.Second)
}
