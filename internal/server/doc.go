// Package server implements the warden: the control plane that spawns,
// supervises and tears down agents on behalf of remote callers.
//
// # Request Flow
//
// A single dispatcher goroutine (the caller of Start) takes one request at
// a time from the reply socket, routes it by message type and sends exactly
// one reply before taking the next:
//
//	spawn_request        -> admission check, Runner.Spawn, Runner.GetAgent, registry insert
//	control_command      -> registry lookup, stop/kill/get_status, status re-read
//	list_agents_request  -> Runner.ListAgents, status filter, limit
//	health_check_request -> liveness, uptime, registry size
//
// Requests that fail to decode, or decode to a non-request variant, are
// counted in Stats.Errors and dropped without a reply.
//
// # Maintenance
//
// Two loops run beside the dispatcher. The status broadcaster stamps every
// registered agent and publishes heartbeats to the broadcast hub. The reaper
// removes agents the runner reports as completed, failed or terminated,
// which is what frees admission slots.
//
// # Shutdown
//
// Stop closes the shutdown channel, waits for the in-flight request, sends
// SignalTerminate to every registered agent, waits a grace period, kills
// whatever the runner still reports as alive, clears the registry and
// closes the socket.
package server
