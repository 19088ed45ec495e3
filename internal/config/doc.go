// Package config handles configuration loading for coven-warden.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion, then defaulted and
// validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_WARDEN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/warden.yaml
//  3. ~/.config/coven/warden.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server:
//
//	server:
//	  endpoint: "tcp://0.0.0.0:5555"   # request-reply socket
//	  server_id: "server-prod-1"       # generated when empty
//	  health_addr: "127.0.0.1:5556"    # gRPC health probe, optional
//
// Admission and maintenance:
//
//	agents:
//	  max_agents: 100
//	  enable_status_updates: true
//	  status_update_interval: "10s"
//	  request_timeout: "30s"
//
// Runner backends ({task}, {name} and {id} are substituted):
//
//	runner:
//	  work_dir: "/var/lib/coven/agents"
//	  backends:
//	    claude: ["claude", "-p", "{task}"]
//
// Journal (empty path disables it):
//
//	journal:
//	  path: "/var/lib/coven/warden.db"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-warden"
//	  auth_key: "${TS_AUTHKEY}"
//	  ephemeral: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/coven/warden.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv, err := server.New(cfg.ServerConfig(), opts)
package config
