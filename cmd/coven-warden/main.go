// ABOUTME: Entry point for coven-warden agent control server
// ABOUTME: Serves the control plane and offers operator commands against a running warden

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-warden/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                         _
  ___ _____   _____ _ __      __      ____ _ _ __ __| | ___ _ __
 / __/ _ \ \ / / _ \ '_ \ ____\ \ /\ / / _' | '__/ _' |/ _ \ '_ \
| (_| (_) \ V /  __/ | | |_____\ V  V / (_| | | | (_| |  __/ | | |
 \___\___/ \_/ \___|_| |_|      \_/\_/ \__,_|_|  \__,_|\___|_| |_|
`

// xdgDir resolves an XDG base directory, falling back to fallback under
// the home directory, or to the working directory when there is no home.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// getConfigPath returns the warden config file: COVEN_WARDEN_CONFIG when
// set, otherwise warden.yaml in the coven XDG config directory.
func getConfigPath() string {
	if p := os.Getenv("COVEN_WARDEN_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "coven", "warden.yaml")
}

// getDataPath returns the coven XDG data directory, home of the journal.
func getDataPath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "coven")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx, args)
	case "spawn":
		err = runSpawn(ctx, args)
	case "ctl":
		err = runCtl(ctx, args)
	case "events":
		err = runEvents(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: coven-warden <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  serve                              Start the warden server")
	fmt.Println("  init [path] [--force]              Write a starter config file")
	fmt.Println("  health                             Check warden health")
	fmt.Println("  agents [--status S] [--limit N]    List agents known to the runner")
	fmt.Println("  spawn --backend B [--name N] [--task T] [--env K=V]...")
	fmt.Println("                                     Spawn an agent")
	fmt.Println("  ctl <agent-id> <command> [K=V]...  Send a control command (stop, kill, get_status, ...)")
	fmt.Println("  events [--agent ID] [--kind K] [--limit N]")
	fmt.Println("                                     Show the lifecycle journal")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  COVEN_WARDEN_CONFIG      Config file path (default: ~/.config/coven/warden.yaml)")
	fmt.Println()
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, path, fmt.Errorf("no config at %s (run 'coven-warden init' first)", path)
	case err != nil:
		return nil, path, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, path, nil
}
