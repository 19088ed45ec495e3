// ABOUTME: Closed set of control command outcomes and their wire rendering
// ABOUTME: Every command resolves to exactly one outcome, converted in one switch

package server

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeUnimplemented
	outcomeNotFound
	outcomeRunnerError
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeSuccess:
		return "success"
	case outcomeUnimplemented:
		return "unimplemented"
	case outcomeNotFound:
		return "not_found"
	case outcomeRunnerError:
		return "runner_error"
	default:
		return "unknown"
	}
}

// commandOutcome is the result of executing one ControlCommand. Only the
// constructors below build one.
type commandOutcome struct {
	kind    outcomeKind
	data    any
	command protocol.CommandType
	agentID uuid.UUID
	err     error
}

func succeeded(data any) commandOutcome {
	return commandOutcome{kind: outcomeSuccess, data: data}
}

func unimplemented(ct protocol.CommandType) commandOutcome {
	return commandOutcome{
		kind:    outcomeUnimplemented,
		command: ct,
		err:     fmt.Errorf("%w: %s", ErrNotImplemented, ct),
	}
}

func notFound(id uuid.UUID) commandOutcome {
	return commandOutcome{
		kind:    outcomeNotFound,
		agentID: id,
		err:     fmt.Errorf("%w: %s", ErrAgentNotFound, id),
	}
}

func runnerFailed(err error) commandOutcome {
	return commandOutcome{kind: outcomeRunnerError, err: err}
}

// Err returns the outcome's error, nil on success.
func (o commandOutcome) Err() error {
	return o.err
}

// response renders the outcome for cmd with the status observed after
// the command ran.
func (o commandOutcome) response(cmd *protocol.ControlCommand, status *protocol.AgentStatus) *protocol.CommandResponse {
	resp := &protocol.CommandResponse{
		RequestID: cmd.RequestID,
		AgentID:   cmd.AgentID,
		Status:    status,
	}

	switch o.kind {
	case outcomeSuccess:
		resp.Success = true
		resp.Data = o.data
	case outcomeUnimplemented:
		resp.Error = fmt.Sprintf("Command not implemented: %s", o.command)
	case outcomeNotFound:
		resp.Error = fmt.Sprintf("Agent not found: %s", o.agentID)
	case outcomeRunnerError:
		resp.Error = o.err.Error()
	default:
		panic(fmt.Sprintf("server: unhandled command outcome %d", o.kind))
	}
	return resp
}
