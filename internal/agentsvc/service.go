package agentsvc

import (
	"context"
	"fmt"

	"github.com/coopforge/sergeant/internal/logging"
	"github.com/coopforge/sergeant/internal/store"
	"github.com/coopforge/sergeant/internal/tasksvc"
	"github.com/coopforge/sergeant/internal/telemetry"
)

var log = logging.Component("agentsvc")

// agentTerminatedMarker is stamped into every work item failure_reason that
// Kill reclaims, so a reader can tell a kill-induced failure apart from one
// the agent reported itself (spec.md §4.6.5).
const agentTerminatedMarker = "agent-terminated"

// Service implements agent registration and lifecycle transitions.
type Service struct {
	store        *store.Store
	notifier     *Notifier
	taskNotifier *tasksvc.Notifier
}

// NewService constructs a Service. taskNotifier may be nil in tests that
// don't care about the task-failed fanout Kill produces.
func NewService(st *store.Store, notifier *Notifier, taskNotifier *tasksvc.Notifier) *Service {
	return &Service{store: st, notifier: notifier, taskNotifier: taskNotifier}
}

// Notifier returns the service's event notifier.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Register creates a new agent in the Starting state.
func (s *Service) Register(ctx context.Context, persona string, pid *int) (*store.Agent, error) {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return nil, err
	}
	agent := &store.Agent{Persona: persona, PID: pid}
	if err := s.store.RegisterAgent(ws.Context(), agent); err != nil {
		ws.Close()
		return nil, err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return nil, err
	}

	if err := s.notifier.PublishRegistered(ctx, Event{AgentID: agent.ID, Persona: persona, Status: agent.Status}); err != nil {
		log.Warn().Err(err).Str("agent_id", agent.ID).Msg("failed to publish agent registered event")
	}
	return agent, nil
}

// UpdateHeartbeat bumps the agent's heartbeat timestamp and, on its first
// poll while Starting, implicitly marks it Running (spec.md §4.6). found
// reports whether the agent exists; false means the caller is polling about
// an agent id the store has no record of, not an error. A StatusChanged
// event is published only when the implicit transition actually happens —
// plain heartbeats are too frequent to be bus-worthy.
func (s *Service) UpdateHeartbeat(ctx context.Context, agentID string) (bool, error) {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return false, err
	}
	found, transitioned, err := s.store.UpdateHeartbeat(ws.Context(), agentID)
	if err != nil {
		ws.Close()
		return false, err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return false, err
	}

	if transitioned {
		if err := s.notifier.PublishStatusChanged(ctx, Event{AgentID: agentID, Status: store.AgentRunning}); err != nil {
			log.Warn().Err(err).Str("agent_id", agentID).Msg("failed to publish agent status changed event")
		}
	}
	return found, nil
}

// MarkRunning transitions an agent from Starting to Running, stamping
// startedAt if unset.
func (s *Service) MarkRunning(ctx context.Context, agentID string) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.MarkAgentRunning(ws.Context(), agentID); err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return err
	}

	if err := s.notifier.PublishStatusChanged(ctx, Event{AgentID: agentID, Status: store.AgentRunning}); err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("failed to publish agent status changed event")
	}
	return nil
}

// Stop transitions an agent to Stopped. Unlike Kill, Stop does not reclaim
// in-progress work: a graceful stop is expected to have already drained it.
func (s *Service) Stop(ctx context.Context, agentID string) error {
	return s.transition(ctx, agentID, store.AgentStopped, store.AgentStarting, store.AgentRunning)
}

func (s *Service) transition(ctx context.Context, agentID string, to store.AgentStatus, from ...store.AgentStatus) error {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAgentStatus(ws.Context(), agentID, to, from...); err != nil {
		ws.Close()
		return err
	}
	ws.Complete()
	if err := ws.Close(); err != nil {
		return err
	}

	if err := s.notifier.PublishStatusChanged(ctx, Event{AgentID: agentID, Status: to}); err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("failed to publish agent status changed event")
	}
	return nil
}

// Kill marks agentID as Killed and fails every one of its in-progress work
// items in the same write scope, so a reader never observes a killed agent
// still holding a claimed item (spec.md §4.6.5). Pending items belonging to
// other agents, or to this agent's persona in general, are untouched.
// Killing an unknown agent id is a no-op: no error, no reclaim, no event.
func (s *Service) Kill(ctx context.Context, agentID, reason string) ([]string, error) {
	ws, err := s.store.WriteScope(ctx)
	if err != nil {
		return nil, err
	}

	killed, err := s.store.KillAgent(ws.Context(), agentID, reason)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if !killed {
		ws.Close()
		return nil, nil
	}

	failureReason := fmt.Sprintf("%s: %s", agentTerminatedMarker, reason)
	reclaimed, err := s.store.ReclaimAgentWorkItems(ws.Context(), agentID, failureReason)
	if err != nil {
		ws.Close()
		return nil, err
	}

	ws.Complete()
	if err := ws.Close(); err != nil {
		return nil, err
	}

	if err := s.notifier.PublishKilled(ctx, Event{AgentID: agentID, Reason: reason, Status: store.AgentKilled}); err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("failed to publish agent killed event")
	}
	telemetry.AgentsKilledTotal.Inc()

	if s.taskNotifier != nil {
		for _, id := range reclaimed {
			if err := s.taskNotifier.PublishFailed(ctx, tasksvc.Event{
				WorkItemID: id, AgentID: agentID, Status: store.WorkItemFailed,
			}); err != nil {
				log.Warn().Err(err).Str("work_item_id", id).Msg("failed to publish reclaimed task failed event")
			}
		}
	}
	telemetry.WorkItemsReclaimedTotal.Add(float64(len(reclaimed)))

	return reclaimed, nil
}

// Get fetches a single agent.
func (s *Service) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	return s.store.GetAgent(s.store.ReadScope(ctx).Context(), agentID)
}

// List returns agents matching filter.
func (s *Service) List(ctx context.Context, filter store.AgentFilter) ([]*store.Agent, error) {
	return s.store.ListAgents(s.store.ReadScope(ctx).Context(), filter)
}
