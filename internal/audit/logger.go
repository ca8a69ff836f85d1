// Package audit hosts a background subscriber on both event buses and
// persists every envelope it sees to the event_log table (spec.md §4.8).
// It deliberately uses the DropOldest overflow policy so a slow disk never
// backpressures the services it listens to (spec.md §9's guidance that
// audit is diagnostic, not load-bearing) and drains its subscriptions with
// a bounded timeout at shutdown rather than blocking indefinitely. Grounded
// on the teacher's RecordMetric/GetMetrics append-only table
// (internal/memory/operational.go) generalized into a listener instead of
// a method callers invoke directly.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coopforge/sergeant/internal/agentsvc"
	"github.com/coopforge/sergeant/internal/eventbus"
	"github.com/coopforge/sergeant/internal/logging"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
	"github.com/coopforge/sergeant/internal/telemetry"
)

var log = logging.Component("audit")

// Capacity is the default bounded buffer size for the audit bus
// subscriptions; overflow drops the oldest unwritten entry.
const Capacity = 256

// Logger persists work item and agent lifecycle events to the store.
type Logger struct {
	store *store.Store

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewLogger constructs a Logger. Start must be called to begin consuming
// events.
func NewLogger(st *store.Store) *Logger {
	return &Logger{store: st, stop: make(chan struct{})}
}

// Start subscribes to both buses and begins persisting events in the
// background. It sets its subscription options (Capacity and the DropOldest
// policy) internally rather than taking config directly, keeping this
// package free of a dependency on internal/config.
func (l *Logger) Start(taskNotifier *tasksvc.Notifier, agentNotifier *agentsvc.Notifier) {
	opts := eventbus.SubscribeOptions{Capacity: Capacity, Policy: eventbus.DropOldest}

	taskEvents := taskNotifier.SubscribeForAllTaskEvents(context.Background(), opts)
	agentEvents := agentNotifier.SubscribeForAllAgentEvents(context.Background(), opts)

	l.wg.Add(2)
	go l.consumeTaskEvents(taskEvents)
	go l.consumeAgentEvents(agentEvents)
}

func (l *Logger) consumeTaskEvents(events <-chan eventbus.Envelope[tasksvc.EventType, tasksvc.Event]) {
	defer l.wg.Done()
	for env := range events {
		rec := &store.EventLogRecord{
			Category:   "task",
			EventType:  string(env.Type),
			SubjectID:  env.Payload.WorkItemID,
			Detail:     fmt.Sprintf("persona=%s agent=%s status=%s", env.Payload.Persona, env.Payload.AgentID, env.Payload.Status),
			OccurredAt: env.Timestamp,
		}
		if err := l.store.AppendEvent(context.Background(), rec); err != nil {
			log.Warn().Err(err).Str("work_item_id", rec.SubjectID).Msg("failed to persist task audit event")
			continue
		}
		telemetry.AuditWritesTotal.WithLabelValues("task").Inc()
	}
}

func (l *Logger) consumeAgentEvents(events <-chan eventbus.Envelope[agentsvc.EventType, agentsvc.Event]) {
	defer l.wg.Done()
	for env := range events {
		rec := &store.EventLogRecord{
			Category:   "agent",
			EventType:  string(env.Type),
			SubjectID:  env.Payload.AgentID,
			Detail:     fmt.Sprintf("persona=%s status=%s reason=%s", env.Payload.Persona, env.Payload.Status, env.Payload.Reason),
			OccurredAt: env.Timestamp,
		}
		if err := l.store.AppendEvent(context.Background(), rec); err != nil {
			log.Warn().Err(err).Str("agent_id", rec.SubjectID).Msg("failed to persist agent audit event")
			continue
		}
		telemetry.AuditWritesTotal.WithLabelValues("agent").Inc()
	}
}

// Shutdown waits up to timeout for in-flight events to drain after the
// caller disposes the buses. It does not dispose the buses itself: that is
// the owning main's job, since other subscribers may still need them.
func (l *Logger) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("audit logger shutdown timed out waiting for subscriber drain")
	}
}
