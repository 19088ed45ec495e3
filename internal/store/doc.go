// Package store provides the warden's lifecycle journal.
//
// # Overview
//
// The runner knows about agents only while the server runs. The journal
// keeps a durable, append-only record of what the server did to each one:
// spawns (and failed spawns), control commands, reaper evictions and the
// terminate/kill steps of shutdown.
//
// # Implementations
//
//   - SQLiteStore: modernc.org/sqlite (pure Go, no cgo), WAL mode
//   - MockStore: in-memory, for tests
//
// # Schema
//
// A single agent_events table indexed by (agent_id, ts), kind and ts.
// Timestamps are stored as fixed-width RFC 3339 text so they sort
// lexically. Free-form detail is stored as JSON.
//
// # Failure Policy
//
// Journal writes never decide the outcome of a request. The server logs
// a failed write and carries on.
package store
