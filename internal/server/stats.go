// ABOUTME: Request and spawn counters for the warden server
// ABOUTME: Monotonic for the life of the process; restarts do not reset them

package server

import (
	"sync"
	"time"
)

// Stats is a point-in-time copy of the server's counters.
type Stats struct {
	SpawnRequests    uint64     `json:"spawn_requests"`
	SuccessfulSpawns uint64     `json:"successful_spawns"`
	FailedSpawns     uint64     `json:"failed_spawns"`
	ControlCommands  uint64     `json:"control_commands"`
	ListRequests     uint64     `json:"list_requests"`
	HealthChecks     uint64     `json:"health_checks"`
	Errors           uint64     `json:"errors"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
}

// statsCollector guards a Stats value. Every mutation goes through update
// so the lock discipline lives in one place.
type statsCollector struct {
	mu    sync.RWMutex
	stats Stats
}

func (c *statsCollector) update(fn func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}

func (c *statsCollector) snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.stats
	if c.stats.StartedAt != nil {
		started := *c.stats.StartedAt
		out.StartedAt = &started
	}
	return out
}

func (c *statsCollector) markStarted(now time.Time) {
	c.update(func(s *Stats) { s.StartedAt = &now })
}

func (c *statsCollector) incErrors() {
	c.update(func(s *Stats) { s.Errors++ })
}
