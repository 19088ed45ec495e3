// ABOUTME: Request dispatcher: receive one frame, route it, send exactly one reply
// ABOUTME: Malformed or unroutable requests are counted and dropped without a reply

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-warden/internal/protocol"
	"github.com/2389/coven-warden/internal/transport"
)

// dispatch runs the request loop until shutdown closes, ctx ends or the
// socket closes. It never receives the next request before the current one
// has been answered or discarded.
func (s *Server) dispatch(ctx context.Context, socket *transport.ReplySocket, shutdown <-chan struct{}) {
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-recvCtx.Done():
		}
	}()

	// Handlers always run to completion once started.
	handlerCtx := context.WithoutCancel(ctx)

	for {
		if recvCtx.Err() != nil {
			return
		}

		req, err := socket.Receive(recvCtx, s.receiveTimeout)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				continue
			case errors.Is(err, transport.ErrClosed), recvCtx.Err() != nil:
				return
			default:
				s.stats.incErrors()
				s.logger.Error("failed to receive request", "error", err)
				continue
			}
		}

		s.serve(handlerCtx, socket, req)
	}
}

// serve answers one request. Every path either replies or discards, so the
// connection is always released.
func (s *Server) serve(ctx context.Context, socket *transport.ReplySocket, req *transport.Request) {
	msg, err := protocol.Decode(req.Body)
	if err != nil {
		s.stats.incErrors()
		s.logger.Warn("dropping undecodable request", "remote", req.Remote, "error", err)
		socket.Discard(req)
		return
	}

	resp, err := s.route(ctx, msg)
	if err != nil {
		s.stats.incErrors()
		s.logger.Warn("dropping request", "remote", req.Remote, "error", err)
		socket.Discard(req)
		return
	}

	body, err := protocol.Encode(resp)
	if err != nil {
		s.stats.incErrors()
		s.logger.Error("failed to encode response", "type", resp.MessageType(), "error", err)
		socket.Discard(req)
		return
	}

	if err := socket.Reply(req, body); err != nil {
		s.stats.incErrors()
		s.logger.Error("failed to send response", "remote", req.Remote, "error", err)
	}
}

// route hands msg to its handler. Only request variants are routable.
func (s *Server) route(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	switch m := msg.(type) {
	case *protocol.SpawnRequest:
		return s.handleSpawn(ctx, m), nil
	case *protocol.ControlCommand:
		return s.handleControl(ctx, m), nil
	case *protocol.ListAgentsRequest:
		return s.handleListAgents(ctx, m), nil
	case *protocol.HealthCheckRequest:
		return s.handleHealthCheck(m), nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnexpectedMessage, msg.MessageType())
	}
}
