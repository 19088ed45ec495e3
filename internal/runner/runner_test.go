// ABOUTME: Tests for the local process runner and the in-memory mock
// ABOUTME: Local tests drive real sh/sleep processes and skip off unix

package runner

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-warden/internal/protocol"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("local runner tests need a POSIX shell")
	}
}

func newLocalRunner(t *testing.T) *LocalRunner {
	t.Helper()
	r := NewLocalRunner(LocalOptions{
		Backends: map[string][]string{
			"ok":    {"sh", "-c", "exit 0"},
			"fail":  {"sh", "-c", "exit 3"},
			"sleep": {"sleep", "30"},
			"echo":  {"sh", "-c", "test \"$1\" = \"{name}\"", "sh"},
		},
		WorkDir: t.TempDir(),
	})
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitForStatus(t *testing.T, r Runner, id uuid.UUID, want protocol.AgentStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := r.GetAgent(context.Background(), id)
		return err == nil && info != nil && info.Status == want
	}, 5*time.Second, 20*time.Millisecond, "agent %s never reached %s", id, want)
}

func TestLocalRunnerExitCodesDecideStatus(t *testing.T) {
	requireUnix(t)
	r := newLocalRunner(t)
	ctx := context.Background()

	ok, err := r.Spawn(ctx, protocol.AgentConfig{Name: "a", ModelBackend: "ok"})
	require.NoError(t, err)
	bad, err := r.Spawn(ctx, protocol.AgentConfig{Name: "b", ModelBackend: "fail"})
	require.NoError(t, err)

	waitForStatus(t, r, ok.ID, protocol.StatusCompleted)
	waitForStatus(t, r, bad.ID, protocol.StatusFailed)
}

func TestLocalRunnerSubstitutesTemplate(t *testing.T) {
	requireUnix(t)
	r := newLocalRunner(t)

	h, err := r.Spawn(context.Background(), protocol.AgentConfig{Name: "scribe", ModelBackend: "echo", Task: "scribe"})
	require.NoError(t, err)
	waitForStatus(t, r, h.ID, protocol.StatusCompleted)
}

func TestLocalRunnerTerminateAndKill(t *testing.T) {
	requireUnix(t)
	r := newLocalRunner(t)
	ctx := context.Background()

	first, err := r.Spawn(ctx, protocol.AgentConfig{Name: "first", ModelBackend: "sleep"})
	require.NoError(t, err)
	second, err := r.Spawn(ctx, protocol.AgentConfig{Name: "second", ModelBackend: "sleep"})
	require.NoError(t, err)

	info, err := r.GetAgent(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, protocol.StatusRunning, info.Status)

	require.NoError(t, r.Signal(ctx, first.ID, SignalTerminate))
	waitForStatus(t, r, first.ID, protocol.StatusTerminated)

	require.NoError(t, r.Kill(ctx, second.ID))
	info, err = r.GetAgent(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusTerminated, info.Status)

	// Signalling a finished agent is harmless.
	assert.NoError(t, r.Signal(ctx, first.ID, SignalTerminate))
	assert.NoError(t, r.Kill(ctx, first.ID))
}

func TestLocalRunnerListsInSpawnOrder(t *testing.T) {
	requireUnix(t)
	r := newLocalRunner(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, name := range []string{"x", "y", "z"} {
		h, err := r.Spawn(ctx, protocol.AgentConfig{Name: name, ModelBackend: "sleep"})
		require.NoError(t, err)
		ids = append(ids, h.ID)
	}

	agents, err := r.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	for i, a := range agents {
		assert.Equal(t, ids[i], a.ID)
	}
}

func TestLocalRunnerUnknownBackendAndAgent(t *testing.T) {
	r := NewLocalRunner(LocalOptions{Backends: map[string][]string{}})
	ctx := context.Background()

	_, err := r.Spawn(ctx, protocol.AgentConfig{Name: "ghost", ModelBackend: "nope"})
	assert.ErrorContains(t, err, "unknown model backend")

	info, err := r.GetAgent(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, info)

	assert.ErrorIs(t, r.Signal(ctx, uuid.New(), SignalTerminate), ErrAgentNotFound)
	assert.ErrorIs(t, r.Kill(ctx, uuid.New()), ErrAgentNotFound)
}

func TestExpandArgvAppendsTaskWhenUnreferenced(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	cfg := protocol.AgentConfig{Name: "n", Task: "do it"}

	assert.Equal(t, []string{"agent", "--id", id.String(), "do it"},
		expandArgv([]string{"agent", "--id", "{id}"}, id, cfg))
	assert.Equal(t, []string{"agent", "--task=do it"},
		expandArgv([]string{"agent", "--task={task}"}, id, cfg))
}

func TestAgentEnvCarriesConfig(t *testing.T) {
	id := uuid.New()
	env := agentEnv(id, protocol.AgentConfig{
		Name:         "n",
		Task:         "t",
		SystemPrompt: "be brief",
		Environment:  map[string]string{"B": "2", "A": "1"},
	})

	assert.Contains(t, env, EnvAgentID+"="+id.String())
	assert.Contains(t, env, EnvSystemPrompt+"=be brief")
	assert.Equal(t, []string{"A=1", "B=2"}, env[len(env)-2:])
}

func TestMockRunnerScriptsStatuses(t *testing.T) {
	m := NewMockRunner()
	m.TerminateTo = protocol.StatusTerminated
	ctx := context.Background()

	h, err := m.Spawn(ctx, protocol.AgentConfig{Name: "a"})
	require.NoError(t, err)

	m.SetStatus(h.ID, protocol.StatusThinking)
	info, err := m.GetAgent(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusThinking, info.Status)

	require.NoError(t, m.Signal(ctx, h.ID, SignalTerminate))
	info, _ = m.GetAgent(ctx, h.ID)
	assert.Equal(t, protocol.StatusTerminated, info.Status)
	assert.Equal(t, []Signal{SignalTerminate}, m.Signals(h.ID))
}

func TestMockRunnerInjectedFailures(t *testing.T) {
	m := NewMockRunner()
	m.SpawnErr = errors.New("out of sockets")
	ctx := context.Background()

	_, err := m.Spawn(ctx, protocol.AgentConfig{})
	assert.EqualError(t, err, "out of sockets")
	assert.Equal(t, 1, m.SpawnCalls())

	assert.ErrorIs(t, m.Kill(ctx, uuid.New()), ErrAgentNotFound)
}

func TestSignalNames(t *testing.T) {
	assert.Equal(t, "terminate", SignalTerminate.String())
	assert.Equal(t, "force_pause", SignalForcePause.String())
	assert.Equal(t, "unknown", Signal(99).String())
}
