// ABOUTME: Journal interface and event types for agent lifecycle persistence
// ABOUTME: Records what the warden did to each agent so history survives restarts

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventKind names a lifecycle event.
type EventKind string

const (
	EventSpawned     EventKind = "spawned"
	EventSpawnFailed EventKind = "spawn_failed"
	EventCommand     EventKind = "command"
	EventReaped      EventKind = "reaped"
	EventTerminated  EventKind = "terminated"
	EventKilled      EventKind = "killed"
)

// ValidEventKinds lists all valid event kinds.
var ValidEventKinds = []EventKind{
	EventSpawned,
	EventSpawnFailed,
	EventCommand,
	EventReaped,
	EventTerminated,
	EventKilled,
}

// Event is one journal entry.
type Event struct {
	ID        string         // UUID v4
	AgentID   uuid.UUID      // uuid.Nil for spawns that never produced an agent
	Kind      EventKind      // what happened
	RequestID string         // request that caused it, empty for maintenance
	Status    string         // agent status observed at the time, if known
	ServerID  string         // server that recorded it
	Timestamp time.Time      // when it happened
	Detail    map[string]any // additional context
}

// EventFilter specifies filtering options for listing events.
type EventFilter struct {
	AgentID *uuid.UUID // events for one agent
	Kind    *EventKind // events of one kind
	Since   *time.Time // events at or after this time
	Limit   int        // max results (default 100, max 1000)
}

// Journal persists agent lifecycle events.
type Journal interface {
	RecordEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// prepareEvent fills in ID and Timestamp when unset.
func prepareEvent(e *Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}
