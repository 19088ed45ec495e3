// ABOUTME: Mock Journal implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Journal implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	events []*Event
	closed bool
}

var _ Journal = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordEvent stores a copy of e.
func (m *MockStore) RecordEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareEvent(e)
	copied := *e
	m.events = append(m.events, &copied)
	return nil
}

// ListEvents returns events matching f, newest first.
func (m *MockStore) ListEvents(_ context.Context, f EventFilter) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if f.AgentID != nil && e.AgentID != *f.AgentID {
			continue
		}
		if f.Kind != nil && e.Kind != *f.Kind {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit := normalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Kinds returns the kinds of every recorded event, oldest first.
func (m *MockStore) Kinds() []EventKind {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kinds := make([]EventKind, len(m.events))
	for i, e := range m.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
