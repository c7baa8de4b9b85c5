package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/logging"
)

func testBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	logger := logging.New("test", "error", "json")
	return New(logger, cfg)
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	b := testBus(t, Config{})
	ctx := context.Background()

	e1, err := b.Publish(ctx, "wager.placed", Scope{}, nil)
	require.NoError(t, err)
	e2, err := b.Publish(ctx, "wager.settled", Scope{}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
}

func TestSubscribeFiltersByEventType(t *testing.T) {
	b := testBus(t, Config{})
	ctx := context.Background()

	_, stream := b.Subscribe(SubscribeOptions{Filter: Filter{EventTypes: []string{"wager.placed"}}})

	_, err := b.Publish(ctx, "wager.settled", Scope{}, nil)
	require.NoError(t, err)
	_, err = b.Publish(ctx, "wager.placed", Scope{}, map[string]interface{}{"wagerId": "w1"})
	require.NoError(t, err)

	select {
	case evt := <-stream:
		assert.Equal(t, "wager.placed", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a matching event")
	}

	select {
	case evt := <-stream:
		t.Fatalf("unexpected second event %+v", evt)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := testBus(t, Config{})
	handle, _ := b.Subscribe(SubscribeOptions{})
	b.Unsubscribe(handle)
	assert.NotPanics(t, func() { b.Unsubscribe(handle) })
}

func TestDropOldestAdmitsNewestWhenBufferFull(t *testing.T) {
	b := testBus(t, Config{})
	ctx := context.Background()
	_, stream := b.Subscribe(SubscribeOptions{Mode: DropOldest, BufferSize: 1})

	_, err := b.Publish(ctx, "a", Scope{}, nil)
	require.NoError(t, err)
	_, err = b.Publish(ctx, "b", Scope{}, nil)
	require.NoError(t, err)

	evt := <-stream
	assert.Equal(t, "b", evt.Type, "oldest queued event should have been dropped")
}

func TestReplayReturnsEventsAfterSequence(t *testing.T) {
	b := testBus(t, Config{RingBufferSize: 10})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, "tick", Scope{}, nil)
		require.NoError(t, err)
	}

	events, ok := b.Replay(3)
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.EqualValues(t, 4, events[0].Sequence)
	assert.EqualValues(t, 5, events[1].Sequence)
}

func TestReplaySignalsResyncWhenGapEvicted(t *testing.T) {
	b := testBus(t, Config{RingBufferSize: 3})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := b.Publish(ctx, "tick", Scope{}, nil)
		require.NoError(t, err)
	}

	_, ok := b.Replay(1)
	assert.False(t, ok, "sequence 1 was evicted by the ring buffer and must force a resync")
}

func TestFilterMatchesIsConjunctive(t *testing.T) {
	f := Filter{EventTypes: []string{"wager.placed"}, AgentScope: []string{"agent-1"}}
	assert.True(t, f.Matches(Event{Type: "wager.placed", Scope: Scope{AgentID: "agent-1"}}))
	assert.False(t, f.Matches(Event{Type: "wager.placed", Scope: Scope{AgentID: "agent-2"}}))
}

func TestAdapterTranslatesScopeMap(t *testing.T) {
	b := testBus(t, Config{})
	adapter := NewAdapter(b)
	_, stream := b.Subscribe(SubscribeOptions{Filter: Filter{AgentScope: []string{"agent-9"}}})

	require.NoError(t, adapter.Publish(context.Background(), "agent.created", map[string]string{"agentId": "agent-9"}, nil))

	select {
	case evt := <-stream:
		assert.Equal(t, "agent-9", evt.Scope.AgentID)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
}
