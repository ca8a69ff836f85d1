package tasksvc

import (
	"context"
	"errors"
	"time"

	"github.com/coopforge/sergeant/internal/config"
	"github.com/coopforge/sergeant/internal/logging"
	"github.com/coopforge/sergeant/internal/sergeanterr"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/telemetry"
)

var log = logging.Component("tasksvc")

// systemRequeryPrefix marks the dispatcher's periodic defensive re-check in
// logs, distinguishing it from a wake driven by a real published event.
const systemRequeryPrefix = "system:requery:"

// Service implements the work-item lifecycle and the get_next_task
// long-poll dispatcher (spec.md §4.5).
type Service struct {
	store    *store.Store
	notifier *Notifier
	cfg      config.LongPollConfig
}

// NewService constructs a Service.
func NewService(st *store.Store, notifier *Notifier, cfg config.LongPollConfig) *Service {
	return &Service{store: st, notifier: notifier, cfg: cfg}
}

// Notifier returns the service's event notifier, for wiring other users of
// the task bus (the audit logger, agentsvc's task-failed fanout).
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Create inserts a new pending work item and announces it only after the
// insert has committed (commit-before-publish, spec.md §4.2). agentID, if
// non-empty, pre-assigns the item to that agent instead of leaving it open
// to the whole persona pool; it need not already be registered (spec.md
// §4.5.1: referencing an unregistered agent id is not an error).
func (s *Service) Create(ctx context.Context, persona, payload string, priority int, agentID string) (*store.WorkItem, error) {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return nil, err
	}
	item := &store.WorkItem{Persona: persona, Payload: payload, Priority: priority, AgentID: agentID}
	if err := s.store.CreateWorkItem(ws.Context(), item); err != nil {
		ws.Close()
		return nil, err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return nil, err
	}

	if err := s.notifier.PublishCreated(ctx, Event{
		WorkItemID: item.ID, Persona: item.Persona, AgentID: item.AgentID, Status: item.Status,
	}); err != nil {
		log.Warn().Err(err).Str("work_item_id", item.ID).Msg("failed to publish task created event")
	}
	telemetry.TasksCreatedTotal.WithLabelValues(item.Persona).Inc()
	return item, nil
}

// claim attempts one atomic claim for persona on behalf of agentID. A nil
// item with a nil error means nothing was available (including the race-
// lost case, which is never surfaced to the caller).
func (s *Service) claim(ctx context.Context, agentID, persona string) (*store.WorkItem, error) {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return nil, err
	}

	item, err := s.store.ClaimNextWorkItem(ws.Context(), agentID, persona)
	if err != nil {
		ws.Close()
		if errors.Is(err, sergeanterr.ErrRaceLost) {
			telemetry.ClaimRaceLossesTotal.Inc()
			return nil, nil
		}
		return nil, err
	}
	if item == nil {
		ws.Close()
		return nil, nil
	}

	ws.Complete()
	if err := ws.Close(); err != nil {
		return nil, err
	}

	if err := s.notifier.PublishClaimed(ctx, Event{
		WorkItemID: item.ID, Persona: item.Persona, AgentID: agentID, Status: item.Status,
	}); err != nil {
		log.Warn().Err(err).Str("work_item_id", item.ID).Msg("failed to publish task claimed event")
	}
	telemetry.TasksClaimedTotal.WithLabelValues(item.Persona).Inc()
	return item, nil
}

// Claim exposes a single atomic claim attempt without waiting, for callers
// that want to poll on their own schedule instead of using GetNextTask.
func (s *Service) Claim(ctx context.Context, agentID, persona string) (*store.WorkItem, error) {
	return s.claim(ctx, agentID, persona)
}

// GetNextTask implements the long-poll dispatcher: an immediate claim
// attempt, then (if nothing was available) a bounded wait on the persona's
// event stream with a periodic defensive poll as a safety net against a
// missed wakeup, up to a retry budget. A nil, nil result means no task
// became available before the deadline; callers (the opsurface HTTP
// handler) re-issue the call, which is why this never returns an error for
// the ordinary "nothing to do yet" case.
func (s *Service) GetNextTask(ctx context.Context, agentID, persona string) (*store.WorkItem, error) {
	timer := telemetry.NewTimer()
	defer timer.ObserveDuration(telemetry.GetNextTaskDuration)

	if item, err := s.claim(ctx, agentID, persona); err != nil {
		return nil, err
	} else if item != nil {
		return item, nil
	}

	if s.notifier.TryConsumeTaskCreated(persona) {
		if item, err := s.claim(ctx, agentID, persona); err != nil {
			return nil, err
		} else if item != nil {
			return item, nil
		}
	}

	deadline := time.Now().Add(s.cfg.TimeToWaitForTask)
	taskLog := logging.WithAgent(log, agentID)

	for retries := 0; retries < s.cfg.MaxRetries; retries++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, remaining)
		events := s.notifier.SubscribeForAgentOrPersona(waitCtx, agentID, persona)
		ticker := time.NewTicker(minDuration(s.cfg.PollingInterval, remaining))

		select {
		case <-events:
		case <-ticker.C:
			taskLog.Debug().Str("requery", systemRequeryPrefix+agentID).Msg("defensive poll tick")
		case <-waitCtx.Done():
			// Whether this is the caller's own cancellation or this
			// iteration's bounded wait expiring, get_next_task never
			// surfaces it as an error (spec.md §4.5.3): the caller re-polls.
			ticker.Stop()
			cancel()
			return nil, nil
		}
		ticker.Stop()
		cancel()

		item, err := s.claim(ctx, agentID, persona)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}

	return nil, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Complete marks a work item completed. There is no agent-ownership check:
// spec.md §4.5.4 gates the transition on the item's current status alone.
// Commit-before-publish applies here too.
func (s *Service) Complete(ctx context.Context, id, result string) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.CompleteWorkItem(ws.Context(), id, result); err != nil {
		ws.Close()
		return err
	}
	item, err := s.store.GetWorkItem(ws.Context(), id)
	if err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return err
	}
	if err := s.notifier.PublishCompleted(ctx, Event{
		WorkItemID: id, AgentID: item.AgentID, Status: store.WorkItemCompleted,
	}); err != nil {
		log.Warn().Err(err).Str("work_item_id", id).Msg("failed to publish task completed event")
	}
	telemetry.TasksCompletedTotal.WithLabelValues(item.Persona).Inc()
	return nil
}

// Fail marks a work item failed with reason. Same no-ownership-check
// contract as Complete.
func (s *Service) Fail(ctx context.Context, id, reason string) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.FailWorkItem(ws.Context(), id, reason); err != nil {
		ws.Close()
		return err
	}
	item, err := s.store.GetWorkItem(ws.Context(), id)
	if err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return err
	}
	if err := s.notifier.PublishFailed(ctx, Event{
		WorkItemID: id, AgentID: item.AgentID, Status: store.WorkItemFailed,
	}); err != nil {
		log.Warn().Err(err).Str("work_item_id", id).Msg("failed to publish task failed event")
	}
	telemetry.TasksFailedTotal.WithLabelValues(item.Persona).Inc()
	return nil
}

// GetStatus fetches a single work item.
func (s *Service) GetStatus(ctx context.Context, id string) (*store.WorkItem, error) {
	return s.store.GetWorkItem(s.store.ReadScope(ctx).Context(), id)
}

// ListByStatus returns work items in the given status.
func (s *Service) ListByStatus(ctx context.Context, status store.WorkItemStatus) ([]*store.WorkItem, error) {
	return s.store.ListWorkItems(s.store.ReadScope(ctx).Context(), store.WorkItemFilter{Status: status})
}

// ListByAgent returns work items assigned to agentID.
func (s *Service) ListByAgent(ctx context.Context, agentID string) ([]*store.WorkItem, error) {
	return s.store.ListWorkItems(s.store.ReadScope(ctx).Context(), store.WorkItemFilter{AgentID: agentID})
}

// ListByAgentAndStatus returns work items assigned to agentID in the given
// status.
func (s *Service) ListByAgentAndStatus(ctx context.Context, agentID string, status store.WorkItemStatus) ([]*store.WorkItem, error) {
	return s.store.ListWorkItems(s.store.ReadScope(ctx).Context(), store.WorkItemFilter{AgentID: agentID, Status: status})
}
