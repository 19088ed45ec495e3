// ABOUTME: Tests for the status update hub
// ABOUTME: Covers per-agent and all-agent subscriptions, drops, cleanup, close

package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-warden/internal/protocol"
)

func heartbeat(agentID uuid.UUID) *protocol.StatusUpdate {
	return &protocol.StatusUpdate{
		AgentID:    agentID,
		UpdateType: protocol.UpdateHeartbeat,
		Status:     protocol.StatusPtr(protocol.StatusRunning),
		Timestamp:  time.Now(),
	}
}

func receive(t *testing.T, ch <-chan *protocol.StatusUpdate) *protocol.StatusUpdate {
	t.Helper()
	select {
	case update, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return update
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return nil
	}
}

func TestHub_AgentSubscriberReceivesOwnUpdates(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a, b := uuid.New(), uuid.New()
	chA, _ := h.Subscribe(t.Context(), a)

	h.Publish(heartbeat(b))
	h.Publish(heartbeat(a))

	got := receive(t, chA)
	assert.Equal(t, a, got.AgentID)
	assert.Empty(t, chA, "updates for other agents are not delivered")
}

func TestHub_AllAgentsSubscriberSeesEverything(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	all, _ := h.Subscribe(t.Context(), AllAgents)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		h.Publish(heartbeat(id))
	}

	for _, id := range ids {
		assert.Equal(t, id, receive(t, all).AgentID)
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	id := uuid.New()
	ch, _ := h.Subscribe(t.Context(), id)

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize + 10 {
			h.Publish(heartbeat(id))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, AllAgents)
	assert.Equal(t, 1, h.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok, "channel closed after cancel")
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	id := uuid.New()
	_, subID := h.Subscribe(t.Context(), id)
	h.Unsubscribe(id, subID)
	h.Unsubscribe(id, subID)
	h.Unsubscribe(uuid.New(), "missing")
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	h := NewHub(nil)

	ch, _ := h.Subscribe(t.Context(), AllAgents)
	h.Close()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := h.Subscribe(t.Context(), AllAgents)
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")

	h.Publish(heartbeat(uuid.New()))
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 100 {
				h.Publish(heartbeat(uuid.New()))
			}
		}()
		go func() {
			defer wg.Done()
			for range 20 {
				ctx, cancel := context.WithCancel(context.Background())
				h.Subscribe(ctx, AllAgents)
				cancel()
			}
		}()
	}
	wg.Wait()
}
