// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, validation and round trips

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	configPath := writeConfig(t, "warden.yaml", `
server:
  endpoint: "tcp://127.0.0.1:6000"
  server_id: "server-alpha"
  health_addr: "127.0.0.1:6001"

agents:
  max_agents: 12
  enable_status_updates: false
  status_update_interval: "15s"
  request_timeout: "1m"

runner:
  work_dir: "/tmp/agents"
  backends:
    claude: ["claude", "-p", "{task}"]

journal:
  path: "./warden.db"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Endpoint != "tcp://127.0.0.1:6000" {
		t.Errorf("Server.Endpoint = %q, want %q", cfg.Server.Endpoint, "tcp://127.0.0.1:6000")
	}
	if cfg.Server.HealthAddr != "127.0.0.1:6001" {
		t.Errorf("Server.HealthAddr = %q, want %q", cfg.Server.HealthAddr, "127.0.0.1:6001")
	}
	if cfg.Agents.MaxAgents != 12 {
		t.Errorf("Agents.MaxAgents = %d, want 12", cfg.Agents.MaxAgents)
	}
	if cfg.Agents.StatusUpdateInterval != 15*time.Second {
		t.Errorf("Agents.StatusUpdateInterval = %v, want %v", cfg.Agents.StatusUpdateInterval, 15*time.Second)
	}
	if cfg.Agents.RequestTimeout != time.Minute {
		t.Errorf("Agents.RequestTimeout = %v, want %v", cfg.Agents.RequestTimeout, time.Minute)
	}
	if got := cfg.Runner.Backends["claude"]; len(got) != 3 || got[2] != "{task}" {
		t.Errorf("Runner.Backends[claude] = %v", got)
	}
	if cfg.Journal.Path != "./warden.db" {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, "./warden.db")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}

	sc := cfg.ServerConfig()
	if sc.EnableStatusUpdates {
		t.Error("ServerConfig().EnableStatusUpdates = true, want false")
	}
	if sc.ServerID != "server-alpha" || sc.MaxAgents != 12 {
		t.Errorf("ServerConfig() = %+v", sc)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	configPath := writeConfig(t, "warden.toml", `
[server]
endpoint = "tcp://*:5556"

[agents]
max_agents = 3
status_update_interval = "2s"

[runner.backends]
echo = ["sh", "-c", "echo {task}"]

[tailscale]
enabled = true
hostname = "warden-test"
ephemeral = true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Endpoint != "tcp://*:5556" {
		t.Errorf("Server.Endpoint = %q", cfg.Server.Endpoint)
	}
	if cfg.Agents.MaxAgents != 3 {
		t.Errorf("Agents.MaxAgents = %d, want 3", cfg.Agents.MaxAgents)
	}
	if cfg.Agents.StatusUpdateInterval != 2*time.Second {
		t.Errorf("Agents.StatusUpdateInterval = %v, want 2s", cfg.Agents.StatusUpdateInterval)
	}
	if !cfg.Tailscale.Enabled || cfg.Tailscale.Hostname != "warden-test" || !cfg.Tailscale.Ephemeral {
		t.Errorf("Tailscale = %+v", cfg.Tailscale)
	}
	if len(cfg.Runner.Backends["echo"]) != 3 {
		t.Errorf("Runner.Backends[echo] = %v", cfg.Runner.Backends["echo"])
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "warden.yaml", "server: {}\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Endpoint != "tcp://0.0.0.0:5555" {
		t.Errorf("Server.Endpoint = %q, want default", cfg.Server.Endpoint)
	}
	if cfg.Agents.MaxAgents != 100 {
		t.Errorf("Agents.MaxAgents = %d, want 100", cfg.Agents.MaxAgents)
	}
	if cfg.Agents.StatusUpdateInterval != 10*time.Second {
		t.Errorf("Agents.StatusUpdateInterval = %v, want 10s", cfg.Agents.StatusUpdateInterval)
	}
	if cfg.Agents.RequestTimeout != 30*time.Second {
		t.Errorf("Agents.RequestTimeout = %v, want 30s", cfg.Agents.RequestTimeout)
	}
	if !cfg.ServerConfig().EnableStatusUpdates {
		t.Error("status updates should default to enabled")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
	if cfg.Journal.Path != "" {
		t.Errorf("Journal.Path = %q, want disabled", cfg.Journal.Path)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WARDEN_ENDPOINT", "tcp://127.0.0.1:7000")
	t.Setenv("TEST_TS_AUTHKEY", "tskey-from-env")
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, "warden.yaml", `
server:
  endpoint: "${TEST_WARDEN_ENDPOINT}"
  server_id: "${UNSET_VAR_FOR_TEST}"
tailscale:
  enabled: true
  hostname: "warden"
  auth_key: "${TEST_TS_AUTHKEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Endpoint != "tcp://127.0.0.1:7000" {
		t.Errorf("Server.Endpoint = %q, want expanded value", cfg.Server.Endpoint)
	}
	if cfg.Tailscale.AuthKey != "tskey-from-env" {
		t.Errorf("Tailscale.AuthKey = %q, want expanded value", cfg.Tailscale.AuthKey)
	}
	// Unset env vars should expand to empty string
	if cfg.Server.ServerID != "" {
		t.Errorf("Server.ServerID = %q, want empty string for unset env var", cfg.Server.ServerID)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "bad duration",
			file:    "warden.yaml",
			content: "agents:\n  status_update_interval: \"soon\"\n",
			wantErr: "status_update_interval",
		},
		{
			name:    "bad endpoint scheme",
			file:    "warden.yaml",
			content: "server:\n  endpoint: \"ipc:///tmp/warden.sock\"\n",
			wantErr: "server.endpoint",
		},
		{
			name:    "negative max agents",
			file:    "warden.yaml",
			content: "agents:\n  max_agents: -4\n",
			wantErr: "max_agents",
		},
		{
			name:    "empty backend command",
			file:    "warden.yaml",
			content: "runner:\n  backends:\n    broken: []\n",
			wantErr: "runner.backends.broken",
		},
		{
			name:    "bad log level",
			file:    "warden.yaml",
			content: "logging:\n  level: \"loud\"\n",
			wantErr: "logging.level",
		},
		{
			name:    "malformed toml",
			file:    "warden.toml",
			content: "[server\nendpoint = 1",
			wantErr: "parsing config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	for _, name := range []string{"warden.yaml", "warden.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Server.Endpoint = "tcp://127.0.0.1:5599"
			cfg.Agents.MaxAgents = 9
			cfg.Agents.StatusUpdateInterval = 45 * time.Second
			cfg.Journal.Path = "/var/lib/warden/journal.db"

			path := filepath.Join(t.TempDir(), "nested", name)
			if err := Write(path, cfg); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.Server.Endpoint != cfg.Server.Endpoint {
				t.Errorf("Server.Endpoint = %q, want %q", got.Server.Endpoint, cfg.Server.Endpoint)
			}
			if got.Agents.MaxAgents != 9 {
				t.Errorf("Agents.MaxAgents = %d, want 9", got.Agents.MaxAgents)
			}
			if got.Agents.StatusUpdateInterval != 45*time.Second {
				t.Errorf("Agents.StatusUpdateInterval = %v, want 45s", got.Agents.StatusUpdateInterval)
			}
			if got.Journal.Path != cfg.Journal.Path {
				t.Errorf("Journal.Path = %q, want %q", got.Journal.Path, cfg.Journal.Path)
			}
			if len(got.Runner.Backends["fake"]) == 0 {
				t.Error("default fake backend lost in round trip")
			}
		})
	}
}
