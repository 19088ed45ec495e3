// ABOUTME: Background loops: the status broadcaster and the terminal-agent reaper
// ABOUTME: Both stop when the shutdown channel closes or the server context ends

package server

import (
	"context"
	"time"

	"github.com/2389/coven-warden/internal/protocol"
	"github.com/2389/coven-warden/internal/store"
)

// runStatusBroadcaster stamps every registered agent on each tick and,
// when anyone is listening, publishes a status_changed update for agents
// whose status moved since the last tick and a heartbeat for the rest.
func (s *Server) runStatusBroadcaster(ctx context.Context, shutdown <-chan struct{}) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.cfg.StatusUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.broadcastStatus(ctx, now)
		}
	}
}

func (s *Server) broadcastStatus(ctx context.Context, now time.Time) {
	ids := s.registry.Touch(now)
	if len(ids) == 0 || s.hub == nil || s.hub.SubscriberCount() == 0 {
		return
	}

	for _, id := range ids {
		update := &protocol.StatusUpdate{
			AgentID:    id,
			UpdateType: protocol.UpdateHeartbeat,
			Timestamp:  now,
		}
		if info, err := s.runner.GetAgent(ctx, id); err == nil && info != nil {
			update.Status = protocol.StatusPtr(info.Status)
			if changed, ok := s.registry.ObserveStatus(id, info.Status); ok && changed {
				update.UpdateType = protocol.UpdateStatusChanged
			}
		}
		s.hub.Publish(update)
	}
}

// runReaper evicts agents whose runner status has become terminal. Without
// it a full registry would refuse spawns forever.
func (s *Server) runReaper(ctx context.Context, shutdown <-chan struct{}) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapTerminated(ctx)
		}
	}
}

// reapTerminated makes one reaper pass and returns how many agents it removed.
func (s *Server) reapTerminated(ctx context.Context) int {
	reaped := 0
	for _, id := range s.registry.IDs() {
		info, err := s.runner.GetAgent(ctx, id)
		if err != nil {
			s.logger.Warn("reaper failed to read agent", "agent_id", id, "error", err)
			continue
		}
		if info == nil || !info.Status.IsTerminal() {
			continue
		}
		if !s.registry.Remove(id) {
			continue
		}
		reaped++

		s.logger.Info("reaped agent", "agent_id", id, "status", info.Status)
		s.record(ctx, &store.Event{AgentID: id, Kind: store.EventReaped, Status: string(info.Status)})
		if s.hub != nil {
			s.hub.Publish(&protocol.StatusUpdate{
				AgentID:    id,
				UpdateType: finalUpdateType(info.Status),
				Status:     protocol.StatusPtr(info.Status),
				Timestamp:  time.Now(),
			})
		}
	}
	return reaped
}

func finalUpdateType(status protocol.AgentStatus) protocol.StatusUpdateType {
	switch status {
	case protocol.StatusCompleted:
		return protocol.UpdateCompleted
	case protocol.StatusFailed:
		return protocol.UpdateError
	default:
		return protocol.UpdateTerminated
	}
}
