// ABOUTME: Agent-level types shared by the wire protocol and the runner
// ABOUTME: AgentStatus vocabulary, AgentInfo snapshots, AgentConfig spawn blobs

package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state reported by the runner for an agent.
type AgentStatus string

const (
	StatusIdle         AgentStatus = "idle"
	StatusInitializing AgentStatus = "initializing"
	StatusRunning      AgentStatus = "running"
	StatusThinking     AgentStatus = "thinking"
	StatusPaused       AgentStatus = "paused"
	StatusCompleted    AgentStatus = "completed"
	StatusFailed       AgentStatus = "failed"
	StatusTerminated   AgentStatus = "terminated"
)

// IsTerminal reports whether the agent has finished for good. Terminal
// agents are evicted from the registry by the reaper.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// IsActive reports whether the agent can still do work.
func (s AgentStatus) IsActive() bool {
	switch s {
	case StatusIdle, StatusInitializing, StatusRunning, StatusThinking, StatusPaused:
		return true
	default:
		return false
	}
}

// ParseAgentStatus converts a status name (as used on the wire and on the
// CLI) into an AgentStatus.
func ParseAgentStatus(s string) (AgentStatus, error) {
	status := AgentStatus(s)
	if !status.IsTerminal() && !status.IsActive() {
		return "", fmt.Errorf("unknown agent status %q", s)
	}
	return status, nil
}

// AgentInfo is a point-in-time copy of what the runner knows about an agent.
type AgentInfo struct {
	ID           uuid.UUID   `cbor:"id"`
	Name         string      `cbor:"name"`
	Status       AgentStatus `cbor:"status"`
	ModelBackend string      `cbor:"model_backend,omitempty"`
	Task         string      `cbor:"task,omitempty"`
	StartedAt    time.Time   `cbor:"started_at"`
}

// AgentConfig describes an agent to spawn. The server passes it through to
// the runner untouched.
type AgentConfig struct {
	Name         string            `cbor:"name" yaml:"name"`
	ModelBackend string            `cbor:"model_backend" yaml:"model_backend"`
	Task         string            `cbor:"task" yaml:"task"`
	Context      string            `cbor:"context,omitempty" yaml:"context,omitempty"`
	SystemPrompt string            `cbor:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Environment  map[string]string `cbor:"environment,omitempty" yaml:"environment,omitempty"`
}

// CommandType selects what a ControlCommand does to an agent.
type CommandType string

const (
	CommandPause        CommandType = "pause"
	CommandResume       CommandType = "resume"
	CommandStop         CommandType = "stop"
	CommandKill         CommandType = "kill"
	CommandWriteStdin   CommandType = "write_stdin"
	CommandReadStdout   CommandType = "read_stdout"
	CommandReadStderr   CommandType = "read_stderr"
	CommandGetStatus    CommandType = "get_status"
	CommandSignal       CommandType = "signal"
	CommandCustomAction CommandType = "custom_action"
	CommandQueryOutput  CommandType = "query_output"
	CommandStreamLogs   CommandType = "stream_logs"
)

// CommandTypes lists every command type in wire order.
var CommandTypes = []CommandType{
	CommandPause,
	CommandResume,
	CommandStop,
	CommandKill,
	CommandWriteStdin,
	CommandReadStdout,
	CommandReadStderr,
	CommandGetStatus,
	CommandSignal,
	CommandCustomAction,
	CommandQueryOutput,
	CommandStreamLogs,
}

// ParseCommandType converts a command name into a CommandType.
func ParseCommandType(s string) (CommandType, error) {
	for _, ct := range CommandTypes {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown command type %q", s)
}
