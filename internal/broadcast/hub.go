// ABOUTME: In-memory fan-out of agent status updates
// ABOUTME: Subscribers follow one agent or, with uuid.Nil, every agent

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// AllAgents subscribes to updates for every agent.
var AllAgents = uuid.Nil

// Hub provides in-memory pub/sub for StatusUpdates. The status broadcaster
// and the reaper publish; anything that wants to watch agents subscribes.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[string]chan *protocol.StatusUpdate // agentID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[uuid.UUID]map[string]chan *protocol.StatusUpdate),
		logger:      logger.With("component", "broadcast"),
	}
}

// Subscribe registers for updates about agentID (AllAgents for every
// agent). The returned channel is closed when ctx ends, on Unsubscribe, or
// when the hub closes.
func (h *Hub) Subscribe(ctx context.Context, agentID uuid.UUID) (<-chan *protocol.StatusUpdate, string) {
	subID := uuid.New().String()
	ch := make(chan *protocol.StatusUpdate, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[agentID]; !ok {
		h.subscribers[agentID] = make(map[string]chan *protocol.StatusUpdate)
	}
	h.subscribers[agentID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "agent_id", agentID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(agentID, subID)
	}()

	return ch, subID
}

// Publish delivers update to the agent's subscribers and to AllAgents
// subscribers. Non-blocking: updates are dropped for subscribers whose
// channels are full.
func (h *Hub) Publish(update *protocol.StatusUpdate) {
	h.mu.RLock()
	targets := make([]chan *protocol.StatusUpdate, 0, len(h.subscribers[update.AgentID])+len(h.subscribers[AllAgents]))
	for _, ch := range h.subscribers[update.AgentID] {
		targets = append(targets, ch)
	}
	if update.AgentID != AllAgents {
		for _, ch := range h.subscribers[AllAgents] {
			targets = append(targets, ch)
		}
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	for _, ch := range targets {
		select {
		case ch <- update:
		default:
			h.logger.Debug("dropped update for slow subscriber",
				"agent_id", update.AgentID,
				"update_type", update.UpdateType)
		}
	}
	h.mu.RUnlock()
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, subs := range h.subscribers {
		n += len(subs)
	}
	return n
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(agentID uuid.UUID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[agentID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, agentID)
	}

	h.logger.Debug("subscriber removed", "agent_id", agentID, "sub_id", subID)
}

// Close closes every subscriber channel. Later Subscribe calls get an
// already-closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for agentID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, agentID)
	}

	h.logger.Debug("hub closed")
}
