// ABOUTME: Minimal fake agent for demos and E2E testing of the local runner.
// ABOUTME: Usage: fake-agent [-name N] [-task T] [-duration 2s] [-exit 0] [-steps 4]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	name := flag.String("name", envOr("WARDEN_AGENT_NAME", "fake-agent"), "Agent display name")
	task := flag.String("task", os.Getenv("WARDEN_AGENT_TASK"), "Task to pretend to work on")
	duration := flag.Duration("duration", 2*time.Second, "How long to work before exiting")
	steps := flag.Int("steps", 4, "Progress lines to print while working")
	exitCode := flag.Int("exit", 0, "Exit code once the work is done")
	flag.Parse()

	// Anything left over is treated as the task, so a runner that appends
	// the task as the last argument still works.
	if *task == "" && flag.NArg() > 0 {
		*task = flag.Arg(flag.NArg() - 1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, *name, *task, *duration, *steps, *exitCode))
}

func run(ctx context.Context, name, task string, duration time.Duration, steps, exitCode int) int {
	id := os.Getenv("WARDEN_AGENT_ID")
	fmt.Printf("[%s] starting (id=%s)\n", name, id)
	fmt.Printf("[%s] task: %s\n", name, task)

	if steps < 1 {
		steps = 1
	}
	tick := time.NewTicker(duration / time.Duration(steps))
	defer tick.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "[%s] interrupted at step %d/%d\n", name, i, steps)
			return 143
		case <-tick.C:
			fmt.Printf("[%s] step %d/%d\n", name, i, steps)
		}
	}

	fmt.Printf("[%s] done, exiting with %d\n", name, exitCode)
	return exitCode
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
