// ABOUTME: Tests for CLI helpers: endpoint resolution, config paths, console logging
// ABOUTME: and the table formatting used by agents and events

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/protocol"
)

func TestDialEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		tailnet  string
		want     string
	}{
		{"wildcard becomes loopback", "tcp://0.0.0.0:5555", "", "tcp://127.0.0.1:5555"},
		{"star becomes loopback", "tcp://*:7000", "", "tcp://127.0.0.1:7000"},
		{"explicit host kept", "tcp://10.0.0.5:5555", "", "tcp://10.0.0.5:5555"},
		{"tailnet hostname", "tcp://0.0.0.0:5555", "warden", "tcp://warden:5555"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.Endpoint = tt.endpoint
			if tt.tailnet != "" {
				cfg.Tailscale.Enabled = true
				cfg.Tailscale.Hostname = tt.tailnet
			}
			got, err := dialEndpoint(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	cfg := config.Default()
	cfg.Server.Endpoint = "udp://host:1"
	_, err := dialEndpoint(cfg)
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_WARDEN_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "coven", "warden.yaml"), getConfigPath())

	t.Setenv("COVEN_WARDEN_CONFIG", "/etc/warden.toml")
	assert.Equal(t, "/etc/warden.toml", getConfigPath())

	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "coven"), getDataPath())
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo)).
		With("component", "server").
		WithGroup("req")

	logger.Debug("hidden")
	logger.Info("spawned agent", "agent_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[server]")
	assert.Contains(t, out, "spawned agent")
	assert.Contains(t, out, "req.agent_id=")
	assert.Contains(t, out, "abc")
	assert.NotContains(t, out, "component=")
}

func TestFormatDetail(t *testing.T) {
	assert.Equal(t, "", formatDetail(nil))
	assert.Equal(t, "a=1 b=two", formatDetail(map[string]any{"b": "two", "a": 1}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestColorStatusKeepsName(t *testing.T) {
	for _, s := range []protocol.AgentStatus{protocol.StatusRunning, protocol.StatusFailed, protocol.StatusCompleted} {
		assert.Contains(t, colorStatus(s), string(s))
	}
}
