// ABOUTME: Optional tailnet listener for the reply socket
// ABOUTME: Joins a tailnet with tsnet and listens on the endpoint's port there

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// TailnetOptions configures the embedded tailnet node.
type TailnetOptions struct {
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
}

// Tailnet is a running tsnet node that can hand out listeners.
type Tailnet struct {
	server *tsnet.Server
	logger *slog.Logger
}

// StartTailnet brings a tailnet node up and waits for it to be ready.
func StartTailnet(ctx context.Context, opts TailnetOptions, logger *slog.Logger) (*Tailnet, error) {
	stateDir, err := resolveTailscaleStateDir(opts.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(opts.AuthKey)
	if err != nil {
		return nil, err
	}

	srv := &tsnet.Server{
		Hostname:  opts.Hostname,
		Dir:       stateDir,
		Ephemeral: opts.Ephemeral,
		AuthKey:   authKey,
	}

	logger = logger.With("component", "tailnet")
	logger.Info("starting tailscale node", "hostname", opts.Hostname, "state_dir", stateDir, "ephemeral", opts.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	logTailscaleStatus(logger, opts.Hostname, status)

	return &Tailnet{server: srv, logger: logger}, nil
}

// Listen satisfies ListenFunc. Only the port of address is used; the node
// listens on its tailnet addresses.
func (t *Tailnet) Listen(_ context.Context, network, address string) (net.Listener, error) {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("tailnet listen address %q: %w", address, err)
	}
	ln, err := t.server.Listen(network, ":"+port)
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale port %s: %w", port, err)
	}
	return ln, nil
}

// Close shuts the node down.
func (t *Tailnet) Close() error {
	return t.server.Close()
}

func logTailscaleStatus(logger *slog.Logger, hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-warden", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}
