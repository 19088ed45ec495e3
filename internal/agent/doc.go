// Package agent keeps the warden's registry of spawned agents.
//
// # Overview
//
// The runner owns agent processes and is the source of truth for their
// status. The Registry is the server's own bookkeeping on top of that: it
// records which agents this server spawned, with what configuration, and
// when the status broadcaster last looked at them.
//
// # Registry
//
//	reg := agent.NewRegistry(logger)
//
// Key operations:
//
//   - Insert(agent): Add an agent after spawn and info lookup both succeeded
//   - Remove(id): Drop an agent (reaper or shutdown)
//   - Len(): Current count, used for admission control
//   - IDs(): Snapshot of ids for the maintenance loops
//   - Touch(now): Stamp LastStatusUpdate on every entry
//   - Clear(): Drop everything during shutdown
//
// # Admission
//
// The registry does not enforce a ceiling itself. The server checks Len
// against max_agents and inserts in the same handler call; because the
// dispatcher handles one request at a time, two spawns can never race past
// the ceiling.
//
// # Thread Safety
//
// Registry is safe for concurrent use. The dispatcher, the status
// broadcaster and the reaper all mutate it. Get returns copies so callers
// never observe a record mid-update.
package agent
