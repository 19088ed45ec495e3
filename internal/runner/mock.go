// ABOUTME: In-memory Runner for tests and dry runs
// ABOUTME: Records every call and lets callers script statuses and failures

package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
)

// MockRunner is a Runner that never starts a process. Exported fields may
// be set before use to inject failures.
type MockRunner struct {
	// SpawnErr, when set, fails every Spawn.
	SpawnErr error
	// GetErr, when set, fails every GetAgent.
	GetErr error
	// ListErr, when set, fails every ListAgents.
	ListErr error
	// SpawnDelay makes Spawn take this long, or until ctx ends.
	SpawnDelay time.Duration
	// HideSpawned makes GetAgent report no info for agents spawned here.
	HideSpawned bool
	// TerminateTo is the status an agent moves to when it receives
	// SignalTerminate. Empty leaves the status unchanged.
	TerminateTo protocol.AgentStatus

	mu      sync.Mutex
	order   []uuid.UUID
	agents  map[uuid.UUID]*protocol.AgentInfo
	spawned []protocol.AgentConfig
	signals map[uuid.UUID][]Signal
	kills   []uuid.UUID
}

// NewMockRunner returns an empty MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		agents:  make(map[uuid.UUID]*protocol.AgentInfo),
		signals: make(map[uuid.UUID][]Signal),
	}
}

var _ Runner = (*MockRunner)(nil)

func (m *MockRunner) Spawn(ctx context.Context, cfg protocol.AgentConfig) (Handle, error) {
	m.mu.Lock()
	m.spawned = append(m.spawned, cfg)
	spawnErr, delay := m.SpawnErr, m.SpawnDelay
	m.mu.Unlock()

	if spawnErr != nil {
		return Handle{}, spawnErr
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Handle{}, fmt.Errorf("spawn %s: %w", cfg.Name, ctx.Err())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	m.order = append(m.order, id)
	m.agents[id] = &protocol.AgentInfo{
		ID:           id,
		Name:         cfg.Name,
		Status:       protocol.StatusRunning,
		ModelBackend: cfg.ModelBackend,
		Task:         cfg.Task,
		StartedAt:    time.Now(),
	}
	return Handle{ID: id}, nil
}

func (m *MockRunner) GetAgent(_ context.Context, id uuid.UUID) (*protocol.AgentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if m.HideSpawned {
		return nil, nil
	}
	info, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	copied := *info
	return &copied, nil
}

func (m *MockRunner) ListAgents(_ context.Context) ([]protocol.AgentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]protocol.AgentInfo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.agents[id])
	}
	return out, nil
}

func (m *MockRunner) Signal(_ context.Context, id uuid.UUID, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("signal %s to %s: %w", sig, id, ErrAgentNotFound)
	}
	m.signals[id] = append(m.signals[id], sig)
	if sig == SignalTerminate && m.TerminateTo != "" {
		info.Status = m.TerminateTo
	}
	return nil
}

func (m *MockRunner) Kill(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("kill %s: %w", id, ErrAgentNotFound)
	}
	m.kills = append(m.kills, id)
	info.Status = protocol.StatusTerminated
	return nil
}

// Add registers an agent directly, as if another process had spawned it.
func (m *MockRunner) Add(info protocol.AgentInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[info.ID]; !exists {
		m.order = append(m.order, info.ID)
	}
	copied := info
	m.agents[info.ID] = &copied
}

// SetStatus changes an agent's reported status.
func (m *MockRunner) SetStatus(id uuid.UUID, status protocol.AgentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.agents[id]; ok {
		info.Status = status
	}
}

// SetGetErr fails every later GetAgent with err. Safe while in use.
func (m *MockRunner) SetGetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetErr = err
}

// SetTerminateTo changes TerminateTo while the mock is in use.
func (m *MockRunner) SetTerminateTo(status protocol.AgentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TerminateTo = status
}

// SpawnCalls returns how many times Spawn was called, failed calls included.
func (m *MockRunner) SpawnCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spawned)
}

// Signals returns the signals delivered to id, in order.
func (m *MockRunner) Signals(id uuid.UUID) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Signal(nil), m.signals[id]...)
}

// SignalCount returns the total number of signals delivered.
func (m *MockRunner) SignalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sigs := range m.signals {
		n += len(sigs)
	}
	return n
}

// Kills returns the ids that were killed, in order.
func (m *MockRunner) Kills() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.kills...)
}
