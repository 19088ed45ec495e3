// ABOUTME: Runner that starts agents as local child processes
// ABOUTME: Model backends map to argv templates; exit codes decide terminal status

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
)

// Environment variables every spawned agent receives.
const (
	EnvAgentID      = "WARDEN_AGENT_ID"
	EnvAgentName    = "WARDEN_AGENT_NAME"
	EnvAgentTask    = "WARDEN_AGENT_TASK"
	EnvAgentContext = "WARDEN_AGENT_CONTEXT"
	EnvSystemPrompt = "WARDEN_SYSTEM_PROMPT"
)

// LocalOptions configures a LocalRunner.
type LocalOptions struct {
	// Backends maps a model_backend name to the argv that runs it. Tokens
	// may reference {task}, {name} or {id}; when none references {task}
	// the task is appended as the final argument.
	Backends map[string][]string
	// WorkDir is the working directory for spawned agents.
	WorkDir string
	Logger  *slog.Logger
}

type localAgent struct {
	info    protocol.AgentInfo
	cmd     *exec.Cmd
	done    chan struct{}
	stopped bool // signalled to terminate or killed by us
}

// LocalRunner supervises agents as child processes of the server.
type LocalRunner struct {
	backends map[string][]string
	workDir  string
	logger   *slog.Logger

	mu     sync.RWMutex
	order  []uuid.UUID
	agents map[uuid.UUID]*localAgent
}

// NewLocalRunner creates a runner for the given backends.
func NewLocalRunner(opts LocalOptions) *LocalRunner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{
		backends: opts.Backends,
		workDir:  opts.WorkDir,
		logger:   logger.With("component", "runner"),
		agents:   make(map[uuid.UUID]*localAgent),
	}
}

var _ Runner = (*LocalRunner)(nil)

// Backends returns the configured backend names, sorted.
func (r *LocalRunner) Backends() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Spawn starts the process for cfg.ModelBackend. The process outlives ctx;
// only Signal and Kill end it.
func (r *LocalRunner) Spawn(_ context.Context, cfg protocol.AgentConfig) (Handle, error) {
	template, ok := r.backends[cfg.ModelBackend]
	if !ok || len(template) == 0 {
		return Handle{}, fmt.Errorf("unknown model backend %q", cfg.ModelBackend)
	}

	id := uuid.New()
	argv := expandArgv(template, id, cfg)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.workDir
	cmd.Env = agentEnv(id, cfg)

	if err := cmd.Start(); err != nil {
		return Handle{}, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	agent := &localAgent{
		info: protocol.AgentInfo{
			ID:           id,
			Name:         cfg.Name,
			Status:       protocol.StatusRunning,
			ModelBackend: cfg.ModelBackend,
			Task:         cfg.Task,
			StartedAt:    time.Now(),
		},
		cmd:  cmd,
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.order = append(r.order, id)
	r.agents[id] = agent
	r.mu.Unlock()

	r.logger.Info("agent process started",
		"agent_id", id,
		"name", cfg.Name,
		"backend", cfg.ModelBackend,
		"pid", cmd.Process.Pid,
	)

	go r.wait(agent)
	return Handle{ID: id}, nil
}

// wait reaps the process and records its terminal status.
func (r *LocalRunner) wait(agent *localAgent) {
	err := agent.cmd.Wait()

	r.mu.Lock()
	switch {
	case agent.stopped:
		agent.info.Status = protocol.StatusTerminated
	case err == nil:
		agent.info.Status = protocol.StatusCompleted
	default:
		agent.info.Status = protocol.StatusFailed
	}
	status := agent.info.Status
	r.mu.Unlock()
	close(agent.done)

	r.logger.Info("agent process exited", "agent_id", agent.info.ID, "status", status, "error", err)
}

func (r *LocalRunner) GetAgent(_ context.Context, id uuid.UUID) (*protocol.AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, nil
	}
	info := agent.info
	return &info, nil
}

func (r *LocalRunner) ListAgents(_ context.Context) ([]protocol.AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.AgentInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].info)
	}
	return out, nil
}

func (r *LocalRunner) Signal(_ context.Context, id uuid.UUID, sig Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("signal %s to %s: %w", sig, id, ErrAgentNotFound)
	}
	if agent.info.Status.IsTerminal() {
		return nil
	}

	osSig, err := osSignal(sig)
	if err != nil {
		return err
	}
	if err := agent.cmd.Process.Signal(osSig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal %s to %s: %w", sig, id, err)
	}

	switch sig {
	case SignalTerminate, SignalKill:
		agent.stopped = true
	case SignalForcePause, SignalInterrupt:
		agent.info.Status = protocol.StatusPaused
	case SignalResume:
		agent.info.Status = protocol.StatusRunning
	}
	return nil
}

func (r *LocalRunner) Kill(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("kill %s: %w", id, ErrAgentNotFound)
	}
	if agent.info.Status.IsTerminal() {
		r.mu.Unlock()
		return nil
	}
	agent.stopped = true
	r.mu.Unlock()

	if err := agent.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	<-agent.done
	return nil
}

// Close kills every agent that is still alive.
func (r *LocalRunner) Close() error {
	r.mu.RLock()
	ids := append([]uuid.UUID(nil), r.order...)
	r.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := r.Kill(context.Background(), id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func expandArgv(template []string, id uuid.UUID, cfg protocol.AgentConfig) []string {
	replacer := strings.NewReplacer(
		"{task}", cfg.Task,
		"{name}", cfg.Name,
		"{id}", id.String(),
	)
	argv := make([]string, 0, len(template)+1)
	usesTask := false
	for _, tok := range template {
		if strings.Contains(tok, "{task}") {
			usesTask = true
		}
		argv = append(argv, replacer.Replace(tok))
	}
	if !usesTask && cfg.Task != "" {
		argv = append(argv, cfg.Task)
	}
	return argv
}

func agentEnv(id uuid.UUID, cfg protocol.AgentConfig) []string {
	env := os.Environ()
	env = append(env,
		EnvAgentID+"="+id.String(),
		EnvAgentName+"="+cfg.Name,
		EnvAgentTask+"="+cfg.Task,
	)
	if cfg.Context != "" {
		env = append(env, EnvAgentContext+"="+cfg.Context)
	}
	if cfg.SystemPrompt != "" {
		env = append(env, EnvSystemPrompt+"="+cfg.SystemPrompt)
	}
	keys := make([]string, 0, len(cfg.Environment))
	for k := range cfg.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Environment[k])
	}
	return env
}
