// ABOUTME: Request and response shapes exchanged with the warden server
// ABOUTME: Every request carries a caller-chosen request_id echoed by its response

package protocol

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion identifies the wire contract revision. It is advertised
// in every HealthCheckResponse.
const ProtocolVersion = "1.0.0"

// MaxMessageSize bounds a single encoded frame (10 MiB).
const MaxMessageSize = 10 * 1024 * 1024

// MessageType is the tag of the message union.
type MessageType string

const (
	TypeSpawnRequest        MessageType = "spawn_request"
	TypeSpawnResponse       MessageType = "spawn_response"
	TypeControlCommand      MessageType = "control_command"
	TypeCommandResponse     MessageType = "command_response"
	TypeListAgentsRequest   MessageType = "list_agents_request"
	TypeListAgentsResponse  MessageType = "list_agents_response"
	TypeHealthCheckRequest  MessageType = "health_check_request"
	TypeHealthCheckResponse MessageType = "health_check_response"
	TypeStatusUpdate        MessageType = "status_update"
)

// Message is implemented by every member of the message union.
type Message interface {
	MessageType() MessageType
}

// Request is a Message a client may send to the server.
type Request interface {
	Message
	GetRequestID() string
	request()
}

// SpawnRequest asks the server to start a new agent.
type SpawnRequest struct {
	RequestID   string            `cbor:"request_id"`
	Config      AgentConfig       `cbor:"config"`
	TimeoutSecs *uint64           `cbor:"timeout_secs,omitempty"`
	Metadata    map[string]string `cbor:"metadata,omitempty"`
}

// SpawnResponse reports the outcome of a SpawnRequest.
type SpawnResponse struct {
	RequestID string     `cbor:"request_id"`
	Success   bool       `cbor:"success"`
	AgentInfo *AgentInfo `cbor:"agent_info,omitempty"`
	Error     string     `cbor:"error,omitempty"`
	ServerID  string     `cbor:"server_id,omitempty"`
}

// ControlCommand asks the server to act on a registered agent.
type ControlCommand struct {
	RequestID   string         `cbor:"request_id"`
	AgentID     uuid.UUID      `cbor:"agent_id"`
	CommandType CommandType    `cbor:"command_type"`
	Payload     map[string]any `cbor:"payload,omitempty"`
}

// CommandResponse reports the outcome of a ControlCommand together with the
// agent's status as re-read after the command ran.
type CommandResponse struct {
	RequestID string       `cbor:"request_id"`
	AgentID   uuid.UUID    `cbor:"agent_id"`
	Success   bool         `cbor:"success"`
	Status    *AgentStatus `cbor:"status,omitempty"`
	Data      any          `cbor:"data,omitempty"`
	Error     string       `cbor:"error,omitempty"`
}

// ListAgentsRequest asks for the runner's view of all agents.
type ListAgentsRequest struct {
	RequestID    string       `cbor:"request_id"`
	FilterStatus *AgentStatus `cbor:"filter_status,omitempty"`
	Limit        *int         `cbor:"limit,omitempty"`
}

// ListAgentsResponse carries the (filtered, truncated) agent list.
type ListAgentsResponse struct {
	RequestID string      `cbor:"request_id"`
	Success   bool        `cbor:"success"`
	Agents    []AgentInfo `cbor:"agents"`
	Error     string      `cbor:"error,omitempty"`
}

// HealthCheckRequest is a liveness probe of the server itself.
type HealthCheckRequest struct {
	RequestID string `cbor:"request_id"`
}

// HealthCheckResponse answers a HealthCheckRequest.
type HealthCheckResponse struct {
	RequestID       string            `cbor:"request_id"`
	Healthy         bool              `cbor:"healthy"`
	ProtocolVersion string            `cbor:"protocol_version"`
	UptimeSecs      *uint64           `cbor:"uptime_secs,omitempty"`
	ActiveAgents    *int              `cbor:"active_agents,omitempty"`
	Metadata        map[string]string `cbor:"metadata,omitempty"`
}

// StatusUpdateType classifies a StatusUpdate.
type StatusUpdateType string

const (
	UpdateStatusChanged StatusUpdateType = "status_changed"
	UpdateError         StatusUpdateType = "error"
	UpdateCompleted     StatusUpdateType = "completed"
	UpdateTerminated    StatusUpdateType = "terminated"
	UpdateHeartbeat     StatusUpdateType = "heartbeat"
)

// StatusUpdate is pushed to subscribers by the status broadcaster. It is
// never valid as a request.
type StatusUpdate struct {
	AgentID    uuid.UUID        `cbor:"agent_id"`
	UpdateType StatusUpdateType `cbor:"update_type"`
	Status     *AgentStatus     `cbor:"status,omitempty"`
	Message    string           `cbor:"message,omitempty"`
	Timestamp  time.Time        `cbor:"timestamp"`
}

func (*SpawnRequest) MessageType() MessageType        { return TypeSpawnRequest }
func (*SpawnResponse) MessageType() MessageType       { return TypeSpawnResponse }
func (*ControlCommand) MessageType() MessageType      { return TypeControlCommand }
func (*CommandResponse) MessageType() MessageType     { return TypeCommandResponse }
func (*ListAgentsRequest) MessageType() MessageType   { return TypeListAgentsRequest }
func (*ListAgentsResponse) MessageType() MessageType  { return TypeListAgentsResponse }
func (*HealthCheckRequest) MessageType() MessageType  { return TypeHealthCheckRequest }
func (*HealthCheckResponse) MessageType() MessageType { return TypeHealthCheckResponse }
func (*StatusUpdate) MessageType() MessageType        { return TypeStatusUpdate }

func (r *SpawnRequest) GetRequestID() string       { return r.RequestID }
func (r *ControlCommand) GetRequestID() string     { return r.RequestID }
func (r *ListAgentsRequest) GetRequestID() string  { return r.RequestID }
func (r *HealthCheckRequest) GetRequestID() string { return r.RequestID }

func (*SpawnRequest) request()       {}
func (*ControlCommand) request()     {}
func (*ListAgentsRequest) request()  {}
func (*HealthCheckRequest) request() {}

// Response is a Message the server sends back; it echoes the request id.
type Response interface {
	Message
	GetRequestID() string
	response()
}

func (r *SpawnResponse) GetRequestID() string       { return r.RequestID }
func (r *CommandResponse) GetRequestID() string     { return r.RequestID }
func (r *ListAgentsResponse) GetRequestID() string  { return r.RequestID }
func (r *HealthCheckResponse) GetRequestID() string { return r.RequestID }

func (*SpawnResponse) response()       {}
func (*CommandResponse) response()     {}
func (*ListAgentsResponse) response()  {}
func (*HealthCheckResponse) response() {}

// StatusPtr returns a pointer to s, for the optional status fields.
func StatusPtr(s AgentStatus) *AgentStatus {
	return &s
}
