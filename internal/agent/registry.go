// ABOUTME: Tracks the agents this server spawned, keyed by runner-assigned id.
// ABOUTME: Shared by the request dispatcher, the status broadcaster and the reaper.

package agent

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/protocol"
)

// ErrAgentAlreadyRegistered indicates an agent with the same ID is already registered.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ManagedAgent is the server's record of one spawned agent, layered over
// the info the runner reported at spawn time.
type ManagedAgent struct {
	Info             protocol.AgentInfo
	Config           protocol.AgentConfig
	SpawnedAt        time.Time
	SpawnRequestID   string
	LastStatusUpdate *time.Time
}

// Registry is a concurrency-safe map of managed agents. Distinct ids never
// share state, so a single lock only costs throughput.
type Registry struct {
	agents map[uuid.UUID]*ManagedAgent
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents: make(map[uuid.UUID]*ManagedAgent),
		logger: logger,
	}
}

// Insert adds a managed agent.
// Returns ErrAgentAlreadyRegistered if an agent with the same ID exists.
func (r *Registry) Insert(agent *ManagedAgent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.Info.ID]; exists {
		return ErrAgentAlreadyRegistered
	}

	r.agents[agent.Info.ID] = agent
	r.logger.Info("=== AGENT REGISTERED ===",
		"agent_id", agent.Info.ID,
		"name", agent.Info.Name,
		"backend", agent.Info.ModelBackend,
		"total_agents", len(r.agents),
	)
	return nil
}

// Remove deletes an agent and reports whether it was present.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[id]
	if !exists {
		return false
	}
	delete(r.agents, id)
	r.logger.Info("=== AGENT UNREGISTERED ===",
		"agent_id", id,
		"name", agent.Info.Name,
		"total_agents", len(r.agents),
	)
	return true
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id uuid.UUID) (ManagedAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return ManagedAgent{}, false
	}
	return agent.clone(), true
}

// IDs returns a snapshot of the registered ids. Callers iterate the
// snapshot without holding the lock, so entries may vanish meanwhile.
func (r *Registry) IDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// Touch stamps LastStatusUpdate on every entry and returns the ids stamped.
func (r *Registry) Touch(now time.Time) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.agents))
	for id, agent := range r.agents {
		stamp := now
		agent.LastStatusUpdate = &stamp
		ids = append(ids, id)
	}
	return ids
}

// ObserveStatus records status as the latest known for id and reports
// whether it differs from what was recorded before. ok is false when id
// is not registered.
func (r *Registry) ObserveStatus(id uuid.UUID, status protocol.AgentStatus) (changed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return false, false
	}
	if agent.Info.Status == status {
		return false, true
	}
	agent.Info.Status = status
	return true, true
}

// Clear removes every entry and returns how many were dropped.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.agents)
	r.agents = make(map[uuid.UUID]*ManagedAgent)
	if n > 0 {
		r.logger.Info("registry cleared", "dropped", n)
	}
	return n
}

func (a *ManagedAgent) clone() ManagedAgent {
	out := *a
	if a.LastStatusUpdate != nil {
		stamp := *a.LastStatusUpdate
		out.LastStatusUpdate = &stamp
	}
	if a.Config.Environment != nil {
		env := make(map[string]string, len(a.Config.Environment))
		for k, v := range a.Config.Environment {
			env[k] = v
		}
		out.Config.Environment = env
	}
	return out
}
