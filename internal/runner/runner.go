// ABOUTME: Agent runner contract consumed by the warden server
// ABOUTME: Spawn, inspect, signal and kill agents; implementations own the processes

package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
)

// ErrAgentNotFound is returned when an operation names an agent the
// runner has never spawned.
var ErrAgentNotFound = errors.New("agent not found")

// Signal is a process-level request sent to an agent.
type Signal int

const (
	// SignalInterrupt asks the agent to pause cooperatively.
	SignalInterrupt Signal = iota
	// SignalTerminate asks the agent to shut down gracefully.
	SignalTerminate
	// SignalKill forces the agent to exit.
	SignalKill
	// SignalForcePause freezes the agent.
	SignalForcePause
	// SignalResume thaws a frozen agent.
	SignalResume
)

func (s Signal) String() string {
	switch s {
	case SignalInterrupt:
		return "interrupt"
	case SignalTerminate:
		return "terminate"
	case SignalKill:
		return "kill"
	case SignalForcePause:
		return "force_pause"
	case SignalResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Handle identifies a freshly spawned agent.
type Handle struct {
	ID uuid.UUID
}

// Runner supervises agent processes. The server depends only on this
// interface.
//
// GetAgent returns (nil, nil) when the runner has no record of id.
// ListAgents returns agents in spawn order.
type Runner interface {
	Spawn(ctx context.Context, cfg protocol.AgentConfig) (Handle, error)
	GetAgent(ctx context.Context, id uuid.UUID) (*protocol.AgentInfo, error)
	ListAgents(ctx context.Context) ([]protocol.AgentInfo, error)
	Signal(ctx context.Context, id uuid.UUID, sig Signal) error
	Kill(ctx context.Context, id uuid.UUID) error
}

func errUnsupportedSignal(sig Signal) error {
	return fmt.Errorf("signal %s is not supported on this platform", sig)
}
