// ABOUTME: Handlers for spawn, control, list and health requests
// ABOUTME: Each returns a response value; failures are reported in-band, never as panics

package server

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/protocol"
	"github.com/2389/coven-warden/internal/runner"
	"github.com/2389/coven-warden/internal/store"
)

func (s *Server) handleSpawn(ctx context.Context, req *protocol.SpawnRequest) *protocol.SpawnResponse {
	s.stats.update(func(st *Stats) { st.SpawnRequests++ })

	if replayed, ok := s.replayed(req); ok {
		s.logger.Info("replaying spawn response", "request_id", req.RequestID, "agent_id", replayed.AgentInfo.ID)
		return replayed
	}

	resp := s.spawn(ctx, req)
	if resp.Success && req.RequestID != "" {
		s.replay.Put(req.RequestID, &spawnReplay{config: req.Config, resp: resp})
	}
	return resp
}

// spawnReplay remembers a successful spawn so that a resend of the same
// request is answered without starting a second agent.
type spawnReplay struct {
	config protocol.AgentConfig
	resp   *protocol.SpawnResponse
}

// replayed returns the earlier answer to req when req is a resend: same
// request_id, same config, and the agent it started is still registered.
// Anything else is a new spawn and goes through admission.
func (s *Server) replayed(req *protocol.SpawnRequest) (*protocol.SpawnResponse, bool) {
	if req.RequestID == "" {
		return nil, false
	}
	cached, ok := s.replay.Get(req.RequestID)
	if !ok || !reflect.DeepEqual(cached.config, req.Config) {
		return nil, false
	}
	managed, ok := s.registry.Get(cached.resp.AgentInfo.ID)
	if !ok {
		return nil, false
	}

	resp := *cached.resp
	info := managed.Info
	resp.AgentInfo = &info
	return &resp, true
}

func (s *Server) spawn(ctx context.Context, req *protocol.SpawnRequest) *protocol.SpawnResponse {
	fail := func(msg string) *protocol.SpawnResponse {
		return &protocol.SpawnResponse{
			RequestID: req.RequestID,
			Error:     msg,
			ServerID:  s.cfg.ServerID,
		}
	}

	if n := s.registry.Len(); n >= s.cfg.MaxAgents {
		err := fmt.Errorf("%w: %d", ErrAdmissionRejected, s.cfg.MaxAgents)
		s.logger.Warn("spawn rejected", "request_id", req.RequestID, "active_agents", n, "error", err)
		return fail(fmt.Sprintf("Maximum agent limit reached: %d", s.cfg.MaxAgents))
	}

	if req.TimeoutSecs != nil && *req.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*req.TimeoutSecs)*time.Second)
		defer cancel()
	}

	handle, err := s.runner.Spawn(ctx, req.Config)
	if err != nil {
		return s.spawnFailed(ctx, req, uuid.Nil, fail(fmt.Sprintf("Failed to spawn agent: %v", err)))
	}

	info, err := s.runner.GetAgent(ctx, handle.ID)
	if err != nil {
		return s.spawnFailed(ctx, req, handle.ID, fail(fmt.Sprintf("Failed to get agent info: %v", err)))
	}
	if info == nil {
		return s.spawnFailed(ctx, req, handle.ID, fail("Agent spawned but info not available"))
	}

	managed := &agent.ManagedAgent{
		Info:           *info,
		Config:         req.Config,
		SpawnedAt:      time.Now(),
		SpawnRequestID: req.RequestID,
	}
	if err := s.registry.Insert(managed); err != nil {
		return s.spawnFailed(ctx, req, handle.ID, fail(fmt.Sprintf("Failed to register agent: %v", err)))
	}
	s.stats.update(func(st *Stats) { st.SuccessfulSpawns++ })

	s.record(ctx, &store.Event{
		AgentID:   info.ID,
		Kind:      store.EventSpawned,
		RequestID: req.RequestID,
		Status:    string(info.Status),
		Detail: withMetadata(map[string]any{
			"name":          info.Name,
			"model_backend": info.ModelBackend,
		}, req.Metadata),
	})

	return &protocol.SpawnResponse{
		RequestID: req.RequestID,
		Success:   true,
		AgentInfo: info,
		ServerID:  s.cfg.ServerID,
	}
}

func (s *Server) spawnFailed(ctx context.Context, req *protocol.SpawnRequest, id uuid.UUID, resp *protocol.SpawnResponse) *protocol.SpawnResponse {
	s.stats.update(func(st *Stats) { st.FailedSpawns++ })
	s.logger.Error("spawn failed", "request_id", req.RequestID, "agent_id", id, "error", resp.Error)
	s.record(ctx, &store.Event{
		AgentID:   id,
		Kind:      store.EventSpawnFailed,
		RequestID: req.RequestID,
		Detail:    withMetadata(map[string]any{"error": resp.Error}, req.Metadata),
	})
	return resp
}

// withMetadata adds the caller's spawn metadata to a journal detail.
func withMetadata(detail map[string]any, metadata map[string]string) map[string]any {
	if len(metadata) > 0 {
		detail["metadata"] = metadata
	}
	return detail
}

func (s *Server) handleControl(ctx context.Context, cmd *protocol.ControlCommand) *protocol.CommandResponse {
	s.stats.update(func(st *Stats) { st.ControlCommands++ })

	if !s.registry.Contains(cmd.AgentID) {
		outcome := notFound(cmd.AgentID)
		s.logger.Warn("control command for unknown agent", "request_id", cmd.RequestID, "agent_id", cmd.AgentID, "command", cmd.CommandType)
		return outcome.response(cmd, nil)
	}

	outcome := s.execute(ctx, cmd)
	status := s.currentStatus(ctx, cmd.AgentID)

	if err := outcome.Err(); err != nil {
		s.logger.Warn("control command failed",
			"request_id", cmd.RequestID,
			"agent_id", cmd.AgentID,
			"command", cmd.CommandType,
			"outcome", outcome.kind,
			"error", err,
		)
	}

	detail := map[string]any{
		"command_type": string(cmd.CommandType),
		"outcome":      outcome.kind.String(),
	}
	var observed string
	if status != nil {
		observed = string(*status)
	}
	s.record(ctx, &store.Event{
		AgentID:   cmd.AgentID,
		Kind:      store.EventCommand,
		RequestID: cmd.RequestID,
		Status:    observed,
		Detail:    detail,
	})

	return outcome.response(cmd, status)
}

// execute runs one command against the runner.
func (s *Server) execute(ctx context.Context, cmd *protocol.ControlCommand) commandOutcome {
	switch cmd.CommandType {
	case protocol.CommandStop:
		if err := s.runner.Signal(ctx, cmd.AgentID, runner.SignalTerminate); err != nil {
			return runnerFailed(err)
		}
		return succeeded(nil)

	case protocol.CommandKill:
		if err := s.runner.Kill(ctx, cmd.AgentID); err != nil {
			return runnerFailed(err)
		}
		return succeeded(nil)

	case protocol.CommandGetStatus:
		info, err := s.runner.GetAgent(ctx, cmd.AgentID)
		if err != nil {
			return runnerFailed(err)
		}
		if info == nil {
			return notFound(cmd.AgentID)
		}
		return succeeded(map[string]any{"status": string(info.Status)})

	default:
		return unimplemented(cmd.CommandType)
	}
}

// currentStatus re-reads the agent's status, nil if it cannot be read.
func (s *Server) currentStatus(ctx context.Context, id uuid.UUID) *protocol.AgentStatus {
	info, err := s.runner.GetAgent(ctx, id)
	if err != nil || info == nil {
		return nil
	}
	return protocol.StatusPtr(info.Status)
}

func (s *Server) handleListAgents(ctx context.Context, req *protocol.ListAgentsRequest) *protocol.ListAgentsResponse {
	s.stats.update(func(st *Stats) { st.ListRequests++ })

	all, err := s.runner.ListAgents(ctx)
	if err != nil {
		s.logger.Error("failed to list agents", "request_id", req.RequestID, "error", err)
		return &protocol.ListAgentsResponse{
			RequestID: req.RequestID,
			Agents:    []protocol.AgentInfo{},
			Error:     fmt.Sprintf("Failed to list agents: %v", err),
		}
	}

	agents := filterAgents(all, req.FilterStatus, req.Limit)
	return &protocol.ListAgentsResponse{
		RequestID: req.RequestID,
		Success:   true,
		Agents:    agents,
	}
}

// filterAgents applies an exact status filter and then a limit, keeping
// the input order. A negative limit is treated as zero.
func filterAgents(all []protocol.AgentInfo, status *protocol.AgentStatus, limit *int) []protocol.AgentInfo {
	out := make([]protocol.AgentInfo, 0, len(all))
	for _, info := range all {
		if status != nil && info.Status != *status {
			continue
		}
		out = append(out, info)
	}
	if limit != nil {
		n := max(*limit, 0)
		if n < len(out) {
			out = out[:n]
		}
	}
	return out
}

func (s *Server) handleHealthCheck(req *protocol.HealthCheckRequest) *protocol.HealthCheckResponse {
	s.stats.update(func(st *Stats) { st.HealthChecks++ })

	uptime := s.UptimeSecs()
	active := s.registry.Len()
	return &protocol.HealthCheckResponse{
		RequestID:       req.RequestID,
		Healthy:         true,
		ProtocolVersion: protocol.ProtocolVersion,
		UptimeSecs:      &uptime,
		ActiveAgents:    &active,
		Metadata: map[string]string{
			"server_id":  s.cfg.ServerID,
			"endpoint":   s.cfg.Endpoint,
			"max_agents": strconv.Itoa(s.cfg.MaxAgents),
		},
	}
}
