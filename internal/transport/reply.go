// ABOUTME: Reply side of the request-reply transport
// ABOUTME: Frames arrive on many connections but are handed out one at a time

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/2389/coven-warden/internal/protocol"
)

var (
	// ErrTimeout is returned by Receive when no request arrived in time,
	// and by Requester when the reply did not arrive in time.
	ErrTimeout = errors.New("transport: timed out")

	// ErrClosed is returned once the socket has been closed.
	ErrClosed = errors.New("transport: closed")
)

// ListenFunc opens the listener a ReplySocket accepts on. It is swapped out
// for a tailnet listener when the server joins a tailnet.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// Request is one inbound frame awaiting a Reply or Discard.
type Request struct {
	Body   []byte
	Remote string

	conn net.Conn
	done chan struct{}
}

// ReplySocketOptions configures a ReplySocket.
type ReplySocketOptions struct {
	Endpoint     string
	WriteTimeout time.Duration
	Listen       ListenFunc
	Logger       *slog.Logger
}

// ReplySocket is the server end of the request-reply discipline. Every
// connection carries at most one outstanding request: its next frame is
// not read until the current request has been replied to or discarded.
// Receive, Reply and Discard are meant to be called from a single
// dispatcher goroutine.
type ReplySocket struct {
	endpoint     string
	writeTimeout time.Duration
	listen       ListenFunc
	logger       *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	inbound   chan *Request
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewReplySocket creates an unbound socket. Call Bind before Receive.
func NewReplySocket(opts ReplySocketOptions) *ReplySocket {
	listen := opts.Listen
	if listen == nil {
		listen = func(ctx context.Context, network, address string) (net.Listener, error) {
			var lc net.ListenConfig
			return lc.Listen(ctx, network, address)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &ReplySocket{
		endpoint:     opts.Endpoint,
		writeTimeout: writeTimeout,
		listen:       listen,
		logger:       logger.With("component", "transport"),
		conns:        make(map[net.Conn]struct{}),
		inbound:      make(chan *Request),
		closed:       make(chan struct{}),
	}
}

// Bind opens the listener and starts accepting connections.
func (s *ReplySocket) Bind(ctx context.Context) error {
	addr, err := ParseEndpoint(s.endpoint)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if s.listener != nil {
		return fmt.Errorf("transport: already bound to %s", s.listener.Addr())
	}

	ln, err := s.listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.endpoint, err)
	}
	s.listener = ln
	s.logger.Info("reply socket bound", "endpoint", s.endpoint, "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (s *ReplySocket) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *ReplySocket) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosed() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.isClosed() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn reads frames from one connection and hands each one to the
// dispatcher, waiting for it to be answered before reading again.
func (s *ReplySocket) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	for {
		body, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !s.isClosed() {
				s.logger.Debug("connection read failed", "remote", remote, "error", err)
			}
			return
		}

		req := &Request{Body: body, Remote: remote, conn: conn, done: make(chan struct{})}
		select {
		case s.inbound <- req:
		case <-s.closed:
			return
		}

		select {
		case <-req.done:
		case <-s.closed:
			return
		}
	}
}

// Receive waits up to timeout for the next request. It returns ErrTimeout
// when nothing arrived and ErrClosed once the socket is closed.
func (s *ReplySocket) Receive(ctx context.Context, timeout time.Duration) (*Request, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case req := <-s.inbound:
		return req, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrClosed
	}
}

// Reply writes payload as the answer to req and releases its connection
// for the next request. A failed write closes the connection.
func (s *ReplySocket) Reply(req *Request, payload []byte) error {
	defer close(req.done)

	if err := req.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		_ = req.conn.Close()
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := protocol.WriteFrame(req.conn, payload); err != nil {
		_ = req.conn.Close()
		return fmt.Errorf("replying to %s: %w", req.Remote, err)
	}
	return nil
}

// Discard releases req without answering it. The caller on the other end
// only notices through its own timeout.
func (s *ReplySocket) Discard(req *Request) {
	close(req.done)
}

// Close stops accepting, drops every connection and waits for the
// connection goroutines to exit. Safe to call more than once.
func (s *ReplySocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		if s.listener != nil {
			err = s.listener.Close()
		}
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Debug("reply socket closed", "endpoint", s.endpoint)
	})
	return err
}

func (s *ReplySocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
