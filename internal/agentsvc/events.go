// Package agentsvc implements agent registration, heartbeats, and the
// lifecycle state machine including Kill's same-transaction work-item
// reclaim (spec.md §4.4, §4.6). Grounded on the teacher's
// RegisterAgent/RecordHeartbeat/MarkStopped family
// (internal/memory/operational.go), generalized from a single Stopped
// terminal state to the spec's Stopped/Killed split and reworked around
// internal/eventbus instead of a polled table.
package agentsvc

import (
	"context"

	"github.com/coopforge/sergeant/internal/eventbus"
	"github.com/coopforge/sergeant/internal/store"
)

// EventType names an agent lifecycle transition broadcast on the bus.
type EventType string

const (
	EventRegistered   EventType = "agent.registered"
	EventStatusChange EventType = "agent.status_changed"
	EventKilled       EventType = "agent.killed"
)

// Event is the payload carried by every agentsvc envelope.
type Event struct {
	AgentID string
	Persona string
	Status  store.AgentStatus
	Reason  string
}

// Notifier wraps the typed agent event bus.
type Notifier struct {
	bus *eventbus.Bus[EventType, Event]
}

// NewNotifier constructs a ready-to-use Notifier.
func NewNotifier() *Notifier {
	return &Notifier{bus: eventbus.New[EventType, Event]()}
}

// Bus exposes the underlying bus, for wiring the audit logger and for
// Dispose at shutdown.
func (n *Notifier) Bus() *eventbus.Bus[EventType, Event] {
	return n.bus
}

// PublishRegistered announces a new agent.
func (n *Notifier) PublishRegistered(ctx context.Context, ev Event) error {
	return n.bus.Publish(ctx, EventRegistered, ev)
}

// PublishStatusChanged announces a status transition.
func (n *Notifier) PublishStatusChanged(ctx context.Context, ev Event) error {
	return n.bus.Publish(ctx, EventStatusChange, ev)
}

// PublishKilled announces a kill.
func (n *Notifier) PublishKilled(ctx context.Context, ev Event) error {
	return n.bus.Publish(ctx, EventKilled, ev)
}

// SubscribeForAllAgentEvents streams every agent event, unfiltered. Used by
// the audit logger.
func (n *Notifier) SubscribeForAllAgentEvents(ctx context.Context, opts ...eventbus.SubscribeOptions) <-chan eventbus.Envelope[EventType, Event] {
	return n.bus.Subscribe(ctx, eventbus.Filter[EventType, Event]{}, opts...)
}

// SubscribeForAgent streams events concerning a single agent.
func (n *Notifier) SubscribeForAgent(ctx context.Context, agentID string, opts ...eventbus.SubscribeOptions) <-chan eventbus.Envelope[EventType, Event] {
	return n.bus.Subscribe(ctx, eventbus.Filter[EventType, Event]{
		Predicate: func(e Event) bool { return e.AgentID == agentID },
	}, opts...)
}
