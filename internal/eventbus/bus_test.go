package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDeliversMatchingEnvelope(t *testing.T) {
	b := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, Filter[string, int]{Types: []string{"created"}})

	require.NoError(t, b.Publish(context.Background(), "created", 42))
	require.NoError(t, b.Publish(context.Background(), "claimed", 7))

	select {
	case env := <-ch:
		require.Equal(t, "created", env.Type)
		require.Equal(t, 42, env.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching envelope")
	}

	select {
	case env := <-ch:
		t.Fatalf("unexpected second delivery: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPredicateFilterNarrowsDelivery(t *testing.T) {
	b := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, Filter[string, int]{Predicate: func(p int) bool { return p > 10 }})

	require.NoError(t, b.Publish(context.Background(), "x", 1))
	require.NoError(t, b.Publish(context.Background(), "x", 20))

	select {
	case env := <-ch:
		require.Equal(t, 20, env.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestDropOldestPublishDoesNotBlockWhenFull(t *testing.T) {
	b := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Subscribe(ctx, Filter[string, int]{}, SubscribeOptions{Capacity: 2, Policy: DropOldest})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(context.Background(), "x", i))
	}

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, time.Millisecond)
}

func TestCoalesceCollapsesSameTypeEnvelopes(t *testing.T) {
	b := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, Filter[string, int]{}, SubscribeOptions{Capacity: 4, Policy: Coalesce})

	// Give the pump goroutine no chance to drain between publishes by
	// publishing before anything is read.
	require.NoError(t, b.Publish(context.Background(), "status", 1))
	require.NoError(t, b.Publish(context.Background(), "status", 2))
	require.NoError(t, b.Publish(context.Background(), "status", 3))

	select {
	case env := <-ch:
		require.Equal(t, 3, env.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced envelope")
	}
}

func TestDisposeClosesSubscriberChannelsAndRejectsPublish(t *testing.T) {
	b := New[string, int]()
	ch := b.Subscribe(context.Background(), Filter[string, int]{})

	b.Dispose()
	b.Dispose() // safe to call twice

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel did not close")
	}

	require.ErrorIs(t, b.Publish(context.Background(), "x", 1), ErrClosed)
}

func TestSubscribeContextCancellationStopsDelivery(t *testing.T) {
	b := New[string, int]()
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, Filter[string, int]{})

	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel did not close after context cancellation")
	}
}
