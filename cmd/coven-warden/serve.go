// ABOUTME: The serve command: wires runner, journal, hub, probe and tailnet into a server
// ABOUTME: Runs until SIGINT/SIGTERM, then shuts agents down gracefully

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-warden/internal/broadcast"
	"github.com/2389/coven-warden/internal/health"
	"github.com/2389/coven-warden/internal/protocol"
	"github.com/2389/coven-warden/internal/runner"
	"github.com/2389/coven-warden/internal/server"
	"github.com/2389/coven-warden/internal/store"
	"github.com/2389/coven-warden/internal/transport"
)

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	serverCfg := cfg.ServerConfig()
	if serverCfg.ServerID == "" {
		serverCfg.ServerID = server.NewServerID()
	}

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Endpoint:  %s\n", serverCfg.Endpoint)
	green.Print("    ▶ ")
	fmt.Printf("Server ID: %s\n", serverCfg.ServerID)
	green.Print("    ▶ ")
	fmt.Printf("Capacity:  %d agents\n", serverCfg.MaxAgents)
	if cfg.Server.HealthAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Health:    %s\n", cfg.Server.HealthAddr)
	}
	if cfg.Journal.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Journal:   %s\n", cfg.Journal.Path)
	} else {
		yellow.Print("    ▶ ")
		fmt.Println("Journal:   disabled")
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	localRunner := runner.NewLocalRunner(runner.LocalOptions{
		Backends: cfg.Runner.Backends,
		WorkDir:  cfg.Runner.WorkDir,
		Logger:   logger,
	})
	defer func() {
		if err := localRunner.Close(); err != nil {
			logger.Warn("runner close", "error", err)
		}
	}()

	opts := server.Options{
		Runner: localRunner,
		Logger: logger,
		Hub:    broadcast.NewHub(logger),
	}
	defer opts.Hub.Close()

	if cfg.Journal.Path != "" {
		journal, err := store.NewSQLiteStore(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer journal.Close()
		opts.Journal = journal
	}

	if cfg.Tailscale.Enabled {
		tailnet, err := transport.StartTailnet(ctx, transport.TailnetOptions{
			Hostname:  cfg.Tailscale.Hostname,
			AuthKey:   cfg.Tailscale.AuthKey,
			StateDir:  cfg.Tailscale.StateDir,
			Ephemeral: cfg.Tailscale.Ephemeral,
		}, logger)
		if err != nil {
			return fmt.Errorf("starting tailscale: %w", err)
		}
		defer tailnet.Close()
		opts.Listen = tailnet.Listen
	}

	if cfg.Server.HealthAddr != "" {
		probe, stop, err := startProbe(cfg.Server.HealthAddr, logger)
		if err != nil {
			return err
		}
		defer stop()
		opts.Probe = probe
	}

	srv, err := server.New(serverCfg, opts)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	go logStatusUpdates(ctx, opts.Hub, logger)

	logger.Info("starting coven-warden",
		"config", configPath,
		"endpoint", serverCfg.Endpoint,
		"backends", localRunner.Backends(),
	)

	if err := srv.Run(ctx); err != nil {
		return err
	}

	stats := srv.Stats()
	logger.Info("coven-warden exited",
		"spawn_requests", stats.SpawnRequests,
		"successful_spawns", stats.SuccessfulSpawns,
		"failed_spawns", stats.FailedSpawns,
		"errors", stats.Errors,
	)
	return nil
}

// startProbe serves the gRPC health probe on addr. The returned func stops it.
func startProbe(addr string, logger *slog.Logger) (*health.Probe, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening for health probe on %s: %w", addr, err)
	}

	probe := health.NewProbe(logger)
	go func() {
		if err := probe.Serve(ln); err != nil {
			logger.Error("health probe stopped", "error", err)
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		probe.Shutdown(ctx)
	}
	return probe, stop, nil
}

// logStatusUpdates logs every status update published by the server until
// ctx ends or the hub closes.
func logStatusUpdates(ctx context.Context, hub *broadcast.Hub, logger *slog.Logger) {
	updates, _ := hub.Subscribe(ctx, broadcast.AllAgents)
	logger = logger.With("component", "status")
	for update := range updates {
		status := ""
		if update.Status != nil {
			status = string(*update.Status)
		}
		level := slog.LevelDebug
		if update.UpdateType != protocol.UpdateHeartbeat {
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "agent status update",
			"agent_id", update.AgentID,
			"type", update.UpdateType,
			"status", status,
		)
	}
}
