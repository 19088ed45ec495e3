// ABOUTME: Operator commands: init, health, agents, spawn, ctl and events
// ABOUTME: Talk to a running warden through the typed client, or read the journal directly

package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-warden/internal/client"
	"github.com/2389/coven-warden/internal/config"
	"github.com/2389/coven-warden/internal/health"
	"github.com/2389/coven-warden/internal/protocol"
	"github.com/2389/coven-warden/internal/store"
	"github.com/2389/coven-warden/internal/transport"
)

// dialEndpoint turns the configured listen endpoint into one a client can
// dial: wildcard hosts become loopback, and a tailnet server is reached by
// its tailnet hostname.
func dialEndpoint(cfg *config.Config) (string, error) {
	addr, err := transport.ParseEndpoint(cfg.Server.Endpoint)
	if err != nil {
		return "", err
	}
	host, port, _ := net.SplitHostPort(addr)
	switch {
	case cfg.Tailscale.Enabled:
		host = cfg.Tailscale.Hostname
	case host == "0.0.0.0" || host == "::" || host == "":
		host = "127.0.0.1"
	}
	return "tcp://" + net.JoinHostPort(host, port), nil
}

func newClient() (*client.Client, *config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	endpoint, err := dialEndpoint(cfg)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(endpoint, client.Options{Timeout: cfg.Agents.RequestTimeout})
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func runHealth(ctx context.Context) error {
	c, cfg, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !resp.Healthy {
		return fmt.Errorf("unhealthy")
	}

	green := color.New(color.FgGreen)
	green.Println("healthy")
	fmt.Printf("  protocol:      %s\n", resp.ProtocolVersion)
	if resp.UptimeSecs != nil {
		fmt.Printf("  uptime:        %s\n", time.Duration(*resp.UptimeSecs)*time.Second)
	}
	if resp.ActiveAgents != nil {
		fmt.Printf("  active agents: %d/%s\n", *resp.ActiveAgents, resp.Metadata["max_agents"])
	}
	fmt.Printf("  server id:     %s\n", resp.Metadata["server_id"])

	if cfg.Server.HealthAddr != "" {
		status, err := health.Check(ctx, cfg.Server.HealthAddr)
		if err != nil {
			return fmt.Errorf("grpc health probe: %w", err)
		}
		fmt.Printf("  grpc probe:    %s\n", status)
	}
	return nil
}

func runAgents(ctx context.Context, args []string) error {
	var status *protocol.AgentStatus
	var limit *int

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--status", "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--status requires a value")
			}
			s, err := protocol.ParseAgentStatus(args[i+1])
			if err != nil {
				return err
			}
			status = &s
			i++
		case "--limit", "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n < 0 {
				return fmt.Errorf("--limit must be a non-negative number")
			}
			limit = &n
			i++
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	c, _, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.ListAgents(ctx, status, limit)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}

	if len(resp.Agents) == 0 {
		color.New(color.FgHiBlack).Println("  No agents")
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tSTATUS\tBACKEND\tSTARTED")
	fmt.Fprintln(w, "  --\t----\t------\t-------\t-------")
	for _, a := range resp.Agents {
		started := ""
		if !a.StartedAt.IsZero() {
			started = a.StartedAt.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", a.ID, truncate(a.Name, 24), colorStatus(a.Status), a.ModelBackend, started)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func runSpawn(ctx context.Context, args []string) error {
	req := &protocol.SpawnRequest{RequestID: client.NewRequestID()}
	env := map[string]string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		value := func() (string, error) {
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", arg)
			}
			i++
			return args[i], nil
		}

		var err error
		switch arg {
		case "--name", "-n":
			req.Config.Name, err = value()
		case "--backend", "-b":
			req.Config.ModelBackend, err = value()
		case "--task", "-t":
			req.Config.Task, err = value()
		case "--context":
			req.Config.Context, err = value()
		case "--system-prompt":
			req.Config.SystemPrompt, err = value()
		case "--request-id":
			req.RequestID, err = value()
		case "--env", "-e":
			var kv string
			if kv, err = value(); err == nil {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("--env expects KEY=VALUE, got %q", kv)
				}
				env[k] = v
			}
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
		if err != nil {
			return err
		}
	}

	if req.Config.ModelBackend == "" {
		return fmt.Errorf("--backend is required")
	}
	if req.Config.Name == "" {
		req.Config.Name = req.Config.ModelBackend + "-" + uuid.New().String()[:8]
	}
	if len(env) > 0 {
		req.Config.Environment = env
	}

	c, _, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.SpawnRequest(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Spawned %s\n", resp.AgentInfo.Name)
	fmt.Printf("  ID:      %s\n", resp.AgentInfo.ID)
	fmt.Printf("  Status:  %s\n", colorStatus(resp.AgentInfo.Status))
	fmt.Printf("  Server:  %s\n", resp.ServerID)
	return nil
}

func runCtl(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coven-warden ctl <agent-id> <command> [KEY=VALUE]...")
	}

	agentID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid agent id %q: %w", args[0], err)
	}
	ct, err := protocol.ParseCommandType(args[1])
	if err != nil {
		return err
	}

	var payload map[string]any
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("payload entries must be KEY=VALUE, got %q", kv)
		}
		if payload == nil {
			payload = map[string]any{}
		}
		payload[k] = v
	}

	c, _, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	resp, err := c.Control(ctx, agentID, ct, payload)
	if err != nil {
		return err
	}

	status := "unknown"
	if resp.Status != nil {
		status = colorStatus(*resp.Status)
	}
	if !resp.Success {
		return fmt.Errorf("%s (status: %s)", resp.Error, status)
	}

	color.New(color.FgGreen).Printf("  ✓ %s %s\n", ct, agentID)
	fmt.Printf("  Status: %s\n", status)
	if resp.Data != nil {
		fmt.Printf("  Data:   %v\n", resp.Data)
	}
	return nil
}

func runEvents(ctx context.Context, args []string) error {
	var filter store.EventFilter

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--agent", "-a":
			if i+1 >= len(args) {
				return fmt.Errorf("--agent requires a value")
			}
			id, err := uuid.Parse(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid agent id: %w", err)
			}
			filter.AgentID = &id
			i++
		case "--kind", "-k":
			if i+1 >= len(args) {
				return fmt.Errorf("--kind requires a value")
			}
			kind := store.EventKind(args[i+1])
			filter.Kind = &kind
			i++
		case "--limit", "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("--limit must be a number")
			}
			filter.Limit = n
			i++
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal is disabled (set journal.path)")
	}

	journal, err := store.NewSQLiteStore(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	events, err := journal.ListEvents(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		color.New(color.FgHiBlack).Println("  No events")
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tKIND\tAGENT\tSTATUS\tREQUEST\tDETAIL")
	fmt.Fprintln(w, "  ----\t----\t-----\t------\t-------\t------")
	for _, e := range events {
		agent := ""
		if e.AgentID != uuid.Nil {
			agent = e.AgentID.String()
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			e.Kind,
			agent,
			e.Status,
			truncate(e.RequestID, 12),
			formatDetail(e.Detail),
		)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func runInit(args []string) error {
	outputFile := ""
	force := false
	for _, arg := range args {
		switch {
		case arg == "--force" || arg == "-f":
			force = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			outputFile = arg
		}
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-warden configuration setup")
	fmt.Println("================================")
	fmt.Println()

	if outputFile == "" {
		outputFile = prompt(reader, "Config file path", getConfigPath())
	}

	if _, err := os.Stat(outputFile); err == nil && !force {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.Default()

	fmt.Println("\n--- Server Configuration ---")
	cfg.Server.Endpoint = prompt(reader, "Endpoint", "tcp://127.0.0.1:5555")
	cfg.Server.HealthAddr = prompt(reader, "gRPC health probe address (empty to disable)", "")
	maxAgents := prompt(reader, "Maximum agents", strconv.Itoa(cfg.Agents.MaxAgents))
	if n, err := strconv.Atoi(maxAgents); err == nil && n > 0 {
		cfg.Agents.MaxAgents = n
	}

	fmt.Println("\n--- Journal Configuration ---")
	cfg.Journal.Path = prompt(reader, "SQLite journal path (empty to disable)", filepath.Join(getDataPath(), "warden.db"))

	fmt.Println("\n--- Tailscale Configuration ---")
	cfg.Tailscale.Enabled = isYes(prompt(reader, "Enable Tailscale?", "no"))
	if cfg.Tailscale.Enabled {
		cfg.Tailscale.Hostname = prompt(reader, "Tailscale hostname", "coven-warden")
		cfg.Tailscale.AuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		cfg.Tailscale.Ephemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, "Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = prompt(reader, "Log format (text/json)", "text")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}
	if err := config.Write(outputFile, cfg); err != nil {
		return err
	}

	if cfg.Journal.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-warden serve\n")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func colorStatus(s protocol.AgentStatus) string {
	switch {
	case s == protocol.StatusFailed:
		return color.RedString(string(s))
	case s.IsTerminal():
		return color.HiBlackString(string(s))
	case s.IsActive():
		return color.GreenString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func formatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return truncate(strings.Join(parts, " "), 60)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
