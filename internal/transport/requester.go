// ABOUTME: Request side of the request-reply transport
// ABOUTME: One outstanding request per connection, redial after any failure

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/2389/coven-warden/internal/protocol"
)

// DialFunc opens a connection to a reply socket.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Requester sends a frame and waits for exactly one reply. Calls are
// serialized; a caller that needs concurrency opens several Requesters.
type Requester struct {
	address string
	dial    DialFunc

	mu   sync.Mutex
	conn net.Conn
}

// NewRequester creates a Requester for endpoint. The connection is opened
// lazily on the first Request.
func NewRequester(endpoint string, dial DialFunc) (*Requester, error) {
	addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	return &Requester{address: addr, dial: dial}, nil
}

// Request sends body and returns the reply body. If no reply arrives within
// timeout (or before ctx ends) it returns ErrTimeout and drops the
// connection, since a late reply would otherwise be read as the answer to
// the next request.
func (r *Requester) Request(ctx context.Context, body []byte, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.conn == nil {
		conn, err := r.dial(ctx, "tcp", r.address)
		if err != nil {
			var netErr net.Error
			if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
				return nil, fmt.Errorf("dialing %s: %w", r.address, ErrTimeout)
			}
			return nil, fmt.Errorf("dialing %s: %w", r.address, err)
		}
		r.conn = conn
	}

	conn := r.conn
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		r.dropLocked()
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	// Unblock the read if ctx is cancelled before the deadline. The callback
	// holds its own reference since dropLocked clears r.conn without waiting.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteFrame(conn, body); err != nil {
		r.dropLocked()
		return nil, r.classify(ctx, err)
	}
	reply, err := protocol.ReadFrame(conn)
	if err != nil {
		r.dropLocked()
		return nil, r.classify(ctx, err)
	}
	return reply, nil
}

func (r *Requester) classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return ctxErr
		}
		return ErrTimeout
	}
	return fmt.Errorf("request to %s: %w", r.address, err)
}

func (r *Requester) dropLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// Close drops the connection, if any.
func (r *Requester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
