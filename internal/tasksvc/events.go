// Package tasksvc implements the work-item lifecycle and the long-poll
// get_next_task dispatcher (spec.md §4.3, §4.5). Its notifier half is
// grounded on the teacher's message/session bookkeeping
// (internal/memory/operational.go's SendMessage/GetMessages) reshaped
// around the generic internal/eventbus instead of a polled table.
package tasksvc

import (
	"context"
	"sync"

	"github.com/coopforge/sergeant/internal/eventbus"
	"github.com/coopforge/sergeant/internal/sergeanterr"
	"github.com/coopforge/sergeant/internal/store"
)

// EventType names a work item lifecycle transition broadcast on the bus.
type EventType string

const (
	EventCreated   EventType = "task.created"
	EventClaimed   EventType = "task.claimed"
	EventCompleted EventType = "task.completed"
	EventFailed    EventType = "task.failed"
)

// Event is the payload carried by every tasksvc envelope.
type Event struct {
	WorkItemID string
	Persona    string
	AgentID    string
	Status     store.WorkItemStatus
}

// Notifier wraps the typed task event bus with the subscription shapes the
// dispatcher and external listeners need, plus a single-delivery
// created-hint mailbox per persona used to short-circuit GetNextTask's wait
// loop (spec.md §4.5.3) when a task lands between the dispatcher's fast
// claim attempt and its Subscribe call.
type Notifier struct {
	bus *eventbus.Bus[EventType, Event]

	mu          sync.Mutex
	createdHint map[string]bool
}

// NewNotifier constructs a ready-to-use Notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		bus:         eventbus.New[EventType, Event](),
		createdHint: make(map[string]bool),
	}
}

// Bus exposes the underlying bus, for wiring the audit logger and for
// Dispose at shutdown.
func (n *Notifier) Bus() *eventbus.Bus[EventType, Event] {
	return n.bus
}

func (n *Notifier) publish(ctx context.Context, t EventType, ev Event) error {
	return n.bus.Publish(ctx, t, ev)
}

// PublishCreated announces a new pending work item and sets the persona's
// created-hint.
func (n *Notifier) PublishCreated(ctx context.Context, ev Event) error {
	n.mu.Lock()
	n.createdHint[ev.Persona] = true
	n.mu.Unlock()
	return n.publish(ctx, EventCreated, ev)
}

// PublishClaimed announces a successful claim.
func (n *Notifier) PublishClaimed(ctx context.Context, ev Event) error {
	return n.publish(ctx, EventClaimed, ev)
}

// PublishCompleted announces a successful completion.
func (n *Notifier) PublishCompleted(ctx context.Context, ev Event) error {
	return n.publish(ctx, EventCompleted, ev)
}

// PublishFailed announces a failure.
func (n *Notifier) PublishFailed(ctx context.Context, ev Event) error {
	return n.publish(ctx, EventFailed, ev)
}

// TryConsumeTaskCreated reports, and clears, whether a task was created for
// persona since the last call. It is single-delivery: two concurrent
// callers racing this method see the hint at most once between them.
func (n *Notifier) TryConsumeTaskCreated(persona string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.createdHint[persona] {
		delete(n.createdHint, persona)
		return true
	}
	return false
}

// SubscribeForAgent streams events concerning a specific agent's claims.
func (n *Notifier) SubscribeForAgent(ctx context.Context, agentID string, opts ...eventbus.SubscribeOptions) <-chan eventbus.Envelope[EventType, Event] {
	return n.bus.Subscribe(ctx, eventbus.Filter[EventType, Event]{
		Predicate: func(e Event) bool { return e.AgentID == agentID },
	}, opts...)
}

// SubscribeForPersona streams Created events for persona-pool pickups only:
// a Created event whose payload has no pre-assigned agent and matches
// persona. Agent-targeted creations are not delivered here (spec.md §4.3).
func (n *Notifier) SubscribeForPersona(ctx context.Context, persona string, opts ...eventbus.SubscribeOptions) <-chan eventbus.Envelope[EventType, Event] {
	return n.bus.Subscribe(ctx, eventbus.Filter[EventType, Event]{
		Types:     []EventType{EventCreated},
		Predicate: func(e Event) bool { return e.AgentID == "" && e.Persona == persona },
	}, opts...)
}

// SubscribeForAgentOrPersona streams the union of SubscribeForAgent(agentID)
// and SubscribeForPersona(persona), deduped by envelope identity (spec.md
// §4.3). eventbus.Filter's Predicate only sees a payload, not which branch
// it matched, so the union can't be expressed as a single Filter; this fans
// in the two underlying subscriptions instead.
func (n *Notifier) SubscribeForAgentOrPersona(ctx context.Context, agentID, persona string, opts ...eventbus.SubscribeOptions) <-chan eventbus.Envelope[EventType, Event] {
	agentCh := n.SubscribeForAgent(ctx, agentID, opts...)
	personaCh := n.SubscribeForPersona(ctx, persona, opts...)

	out := make(chan eventbus.Envelope[EventType, Event])
	go func() {
		defer close(out)
		seen := make(map[uint64]struct{})
		forward := func(env eventbus.Envelope[EventType, Event]) bool {
			if _, dup := seen[env.ID]; dup {
				return true
			}
			seen[env.ID] = struct{}{}
			select {
			case out <- env:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for agentCh != nil || personaCh != nil {
			select {
			case env, ok := <-agentCh:
				if !ok {
					agentCh = nil
					continue
				}
				if !forward(env) {
					return
				}
			case env, ok := <-personaCh:
				if !ok {
					personaCh = nil
					continue
				}
				if !forward(env) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SubscribeForTaskIds streams completion-relevant events (Completed, Failed)
// concerning a fixed, non-empty set of work items; an empty set is an
// argument error (spec.md §4.3).
func (n *Notifier) SubscribeForTaskIds(ctx context.Context, ids []string, opts ...eventbus.SubscribeOptions) (<-chan eventbus.Envelope[EventType, Event], error) {
	if len(ids) == 0 {
		return nil, sergeanterr.Validation("ids", "must not be empty")
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return n.bus.Subscribe(ctx, eventbus.Filter[EventType, Event]{
		Types:     []EventType{EventCompleted, EventFailed},
		Predicate: func(e Event) bool { _, ok := set[e.WorkItemID]; return ok },
	}, opts...), nil
}

// SubscribeForAllTaskEvents streams every work item event, unfiltered. The
// audit logger uses this.
func (n *Notifier) SubscribeForAllTaskEvents(ctx context.Context, opts ...eventbus.SubscribeOptions) <-chan eventbus.Envelope[EventType, Event] {
	return n.bus.Subscribe(ctx, eventbus.Filter[EventType, Event]{}, opts...)
}
