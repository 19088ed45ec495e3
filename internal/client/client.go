// ABOUTME: Typed client for the warden's request-reply protocol
// ABOUTME: Generates request ids and checks that every reply echoes them

package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
	"github.com/2389/coven-warden/internal/transport"
)

// DefaultTimeout bounds each request when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

var (
	// ErrUnexpectedResponse means the server answered with the wrong variant.
	ErrUnexpectedResponse = errors.New("unexpected response type")

	// ErrRequestIDMismatch means the reply does not belong to the request.
	ErrRequestIDMismatch = errors.New("response request_id does not match")
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each request. A server that drops a request is only
	// noticed through this timeout.
	Timeout time.Duration
	// Dial overrides how the connection is opened (e.g. over a tailnet).
	Dial transport.DialFunc
}

// Client talks to one warden server. Calls are serialized.
type Client struct {
	requester *transport.Requester
	timeout   time.Duration
}

// New creates a client for endpoint. No connection is made until the
// first call.
func New(endpoint string, opts Options) (*Client, error) {
	requester, err := transport.NewRequester(endpoint, opts.Dial)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{requester: requester, timeout: timeout}, nil
}

// NewRequestID returns a fresh request id.
func NewRequestID() string {
	return uuid.New().String()
}

// Spawn asks the server to start an agent from cfg.
func (c *Client) Spawn(ctx context.Context, cfg protocol.AgentConfig) (*protocol.SpawnResponse, error) {
	return c.SpawnRequest(ctx, &protocol.SpawnRequest{RequestID: NewRequestID(), Config: cfg})
}

// SpawnRequest sends req as is. Resending the same request id within the
// server's replay window returns the original answer without a second spawn.
func (c *Client) SpawnRequest(ctx context.Context, req *protocol.SpawnRequest) (*protocol.SpawnResponse, error) {
	if req.RequestID == "" {
		req.RequestID = NewRequestID()
	}
	return call[*protocol.SpawnResponse](ctx, c, req)
}

// Control sends a command to a registered agent. payload may be nil.
func (c *Client) Control(ctx context.Context, agentID uuid.UUID, ct protocol.CommandType, payload map[string]any) (*protocol.CommandResponse, error) {
	return call[*protocol.CommandResponse](ctx, c, &protocol.ControlCommand{
		RequestID:   NewRequestID(),
		AgentID:     agentID,
		CommandType: ct,
		Payload:     payload,
	})
}

// ListAgents lists the runner's agents, optionally filtered by status and
// truncated to limit. Either may be nil.
func (c *Client) ListAgents(ctx context.Context, status *protocol.AgentStatus, limit *int) (*protocol.ListAgentsResponse, error) {
	return call[*protocol.ListAgentsResponse](ctx, c, &protocol.ListAgentsRequest{
		RequestID:    NewRequestID(),
		FilterStatus: status,
		Limit:        limit,
	})
}

// Health sends a liveness probe.
func (c *Client) Health(ctx context.Context) (*protocol.HealthCheckResponse, error) {
	return call[*protocol.HealthCheckResponse](ctx, c, &protocol.HealthCheckRequest{RequestID: NewRequestID()})
}

// Do sends any request and returns the decoded reply without checking its
// variant.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Message, error) {
	body, err := protocol.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", req.MessageType(), err)
	}
	reply, err := c.requester.Request(ctx, body, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.MessageType(), err)
	}
	msg, err := protocol.Decode(reply)
	if err != nil {
		return nil, fmt.Errorf("decoding reply to %s: %w", req.MessageType(), err)
	}
	return msg, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.requester.Close()
}

func call[T protocol.Response](ctx context.Context, c *Client, req protocol.Request) (T, error) {
	var zero T
	msg, err := c.Do(ctx, req)
	if err != nil {
		return zero, err
	}
	resp, ok := msg.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s in reply to %s", ErrUnexpectedResponse, msg.MessageType(), req.MessageType())
	}
	if resp.GetRequestID() != req.GetRequestID() {
		return zero, fmt.Errorf("%w: sent %q, got %q", ErrRequestIDMismatch, req.GetRequestID(), resp.GetRequestID())
	}
	return resp, nil
}
