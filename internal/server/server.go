// ABOUTME: Warden server lifecycle: start, graceful stop, and state accessors
// ABOUTME: Owns the reply socket, the agent registry and the maintenance loops

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/agent"
	"github.com/2389/coven-warden/internal/broadcast"
	"github.com/2389/coven-warden/internal/dedupe"
	"github.com/2389/coven-warden/internal/health"
	"github.com/2389/coven-warden/internal/runner"
	"github.com/2389/coven-warden/internal/store"
	"github.com/2389/coven-warden/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by Start while the server is running.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrAdmissionRejected marks a spawn refused because the registry is full.
	ErrAdmissionRejected = errors.New("maximum agent limit reached")

	// ErrAgentNotFound marks a command for an agent this server does not manage.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNotImplemented marks a command type the server does not execute.
	ErrNotImplemented = errors.New("command not implemented")

	// errUnexpectedMessage marks a decoded message that is not a request.
	errUnexpectedMessage = errors.New("unexpected message type")
)

// State is the server's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options carries the server's collaborators. Only Runner is required.
type Options struct {
	Runner runner.Runner
	Logger *slog.Logger
	// Journal records lifecycle events. Nil disables journaling.
	Journal store.Journal
	// Hub receives status updates. Nil disables publication.
	Hub *broadcast.Hub
	// Probe mirrors the running state over gRPC health. May be nil.
	Probe *health.Probe
	// Listen overrides how the reply socket listens (e.g. on a tailnet).
	Listen transport.ListenFunc
}

// Server is the agent control plane: it answers spawn, control, list and
// health requests over a request-reply socket and keeps the registry of
// agents it spawned in step with the runner.
type Server struct {
	cfg        Config
	runner     runner.Runner
	logger     *slog.Logger
	baseLogger *slog.Logger
	journal    store.Journal
	hub        *broadcast.Hub
	probe      *health.Probe
	listen     transport.ListenFunc
	registry   *agent.Registry
	replay     *dedupe.Cache[*spawnReplay]
	stats      statsCollector

	reaperInterval time.Duration
	gracePeriod    time.Duration
	receiveTimeout time.Duration

	mu           sync.Mutex
	state        State
	socket       *transport.ReplySocket
	shutdown     chan struct{}
	dispatchDone chan struct{}
	loops        sync.WaitGroup
}

// New builds a server. Zero-valued config fields take their defaults.
func New(cfg Config, opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	// Collaborators name their own component, so they get the base logger.
	base = base.With("server_id", cfg.ServerID)
	logger := base.With("component", "server")

	return &Server{
		cfg:            cfg,
		runner:         opts.Runner,
		logger:         logger,
		baseLogger:     base,
		journal:        opts.Journal,
		hub:            opts.Hub,
		probe:          opts.Probe,
		listen:         opts.Listen,
		registry:       agent.NewRegistry(base.With("component", "registry")),
		replay:         dedupe.New[*spawnReplay](dedupe.DefaultTTL, 10_000),
		reaperInterval: reaperInterval,
		gracePeriod:    gracePeriod,
		receiveTimeout: receiveTimeout,
		state:          StateCreated,
	}, nil
}

// Start binds the reply socket, launches the maintenance loops and runs the
// request dispatcher on the calling goroutine until Stop is called or ctx
// ends. A bind failure is returned immediately. Calling Start while running
// returns ErrAlreadyRunning and changes nothing.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateShuttingDown {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	socket := transport.NewReplySocket(transport.ReplySocketOptions{
		Endpoint:     s.cfg.Endpoint,
		WriteTimeout: s.cfg.RequestTimeout,
		Listen:       s.listen,
		Logger:       s.baseLogger,
	})
	if err := socket.Bind(ctx); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("starting server: %w", err)
	}

	shutdown := make(chan struct{})
	dispatchDone := make(chan struct{})
	s.socket = socket
	s.shutdown = shutdown
	s.dispatchDone = dispatchDone
	s.state = StateRunning
	s.stats.markStarted(time.Now())

	if s.cfg.EnableStatusUpdates {
		s.loops.Add(1)
		go s.runStatusBroadcaster(ctx, shutdown)
	}
	s.loops.Add(1)
	go s.runReaper(ctx, shutdown)
	s.mu.Unlock()

	if s.probe != nil {
		s.probe.SetServing(true)
	}
	s.logger.Info("=== WARDEN STARTED ===",
		"endpoint", s.cfg.Endpoint,
		"addr", socket.Addr().String(),
		"max_agents", s.cfg.MaxAgents,
		"status_updates", s.cfg.EnableStatusUpdates,
	)

	defer close(dispatchDone)
	s.dispatch(ctx, socket, shutdown)

	select {
	case <-shutdown:
		return nil
	default:
		return ctx.Err()
	}
}

// Stop shuts the server down: the dispatcher finishes its current request,
// every registered agent is asked to terminate, agents still alive after the
// grace period are killed, the registry is cleared and the socket closed.
// Runner failures along the way are logged, not returned. Stop on a server
// that is not running does nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	close(s.shutdown)
	socket := s.socket
	dispatchDone := s.dispatchDone
	s.mu.Unlock()

	s.logger.Info("=== WARDEN STOPPING ===", "agents", s.registry.Len())
	if s.probe != nil {
		s.probe.SetServing(false)
	}

	// An in-flight handler may still register an agent; let it land first.
	select {
	case <-dispatchDone:
	case <-ctx.Done():
		s.logger.Warn("dispatcher did not finish before shutdown deadline")
	}

	// Shutdown must complete even if ctx is already done.
	opCtx := context.WithoutCancel(ctx)
	s.terminateAgents(opCtx, ctx)

	s.loops.Wait()

	var errs []error
	errs = appendCloseError(errs, "socket close", socket.Close())

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("=== WARDEN STOPPED ===")
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// terminateAgents runs the signal, grace, kill, clear sequence. waitCtx
// only bounds the grace period sleep.
func (s *Server) terminateAgents(ctx, waitCtx context.Context) {
	ids := s.registry.IDs()
	for _, id := range ids {
		if err := s.runner.Signal(ctx, id, runner.SignalTerminate); err != nil {
			s.logger.Warn("failed to signal agent", "agent_id", id, "error", err)
			continue
		}
		s.record(ctx, &store.Event{AgentID: id, Kind: store.EventTerminated})
	}

	if len(ids) > 0 {
		timer := time.NewTimer(s.gracePeriod)
		select {
		case <-timer.C:
		case <-waitCtx.Done():
			timer.Stop()
		}
	}

	for _, id := range ids {
		// An agent whose status cannot be read is killed regardless.
		var observed string
		info, err := s.runner.GetAgent(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("failed to read agent during shutdown, killing", "agent_id", id, "error", err)
		case info == nil || info.Status.IsTerminal():
			continue
		default:
			observed = string(info.Status)
		}
		if err := s.runner.Kill(ctx, id); err != nil {
			s.logger.Warn("failed to kill agent", "agent_id", id, "error", err)
			continue
		}
		s.record(ctx, &store.Event{AgentID: id, Kind: store.EventKilled, Status: observed})
	}

	s.registry.Clear()
}

// Run starts the server and stops it when ctx is cancelled. It returns
// once shutdown has finished.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return s.gracefulStop()
	case <-ctx.Done():
		stopErr := s.gracefulStop()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return stopErr
	}
}

// gracefulStop performs Stop with a fresh context and timeout.
// Uses context.Background() intentionally since the run context is already canceled.
func (s *Server) gracefulStop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.gracePeriod+5*time.Second)
	defer cancel()
	return s.Stop(ctx)
}

// Close releases resources that outlive individual Start/Stop cycles.
func (s *Server) Close() {
	s.replay.Close()
}

// IsRunning reports whether the server is accepting requests.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound socket address, or nil when not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.socket == nil || s.state != StateRunning {
		return nil
	}
	return s.socket.Addr()
}

// Config returns the server's configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}

// ActiveAgentCount returns the number of registered agents.
func (s *Server) ActiveAgentCount() int {
	return s.registry.Len()
}

// UptimeSecs returns whole seconds since the most recent Start, or 0 if
// the server never started.
func (s *Server) UptimeSecs() uint64 {
	started := s.stats.snapshot().StartedAt
	if started == nil {
		return 0
	}
	return uint64(time.Since(*started) / time.Second)
}

// ManagedAgent returns the registry record for id.
func (s *Server) ManagedAgent(id uuid.UUID) (agent.ManagedAgent, bool) {
	return s.registry.Get(id)
}

// record writes a journal event, logging rather than failing.
func (s *Server) record(ctx context.Context, e *store.Event) {
	if s.journal == nil {
		return
	}
	e.ServerID = s.cfg.ServerID
	if err := s.journal.RecordEvent(ctx, e); err != nil {
		s.logger.Warn("failed to journal event", "kind", e.Kind, "agent_id", e.AgentID, "error", err)
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
