package loop

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/respawn/internal/agent"
	"github.com/steveyegge/respawn/internal/hooks"
	"github.com/steveyegge/respawn/internal/statestore"
	"github.com/steveyegge/respawn/internal/types"
	"github.com/steveyegge/respawn/internal/ui"
)

// scriptedAgent plays one step per invocation and records what it was given.
type scriptedAgent struct {
	t     *testing.T
	steps []func(inv agent.Invocation) (agent.Result, error)
	seen  []agent.Invocation
}

func (a *scriptedAgent) Run(ctx context.Context, inv agent.Invocation) (agent.Result, error) {
	a.seen = append(a.seen, inv)
	i := len(a.seen) - 1
	if i >= len(a.steps) {
		a.t.Fatalf("unexpected invocation %d", i)
	}
	return a.steps[i](inv)
}

type hookRecorder struct {
	events []hooks.Payload
	err    error
}

func (h *hookRecorder) RunSync(_ context.Context, p hooks.Payload) error {
	h.events = append(h.events, p)
	return h.err
}

func (h *hookRecorder) names() []string {
	out := make([]string, 0, len(h.events))
	for _, p := range h.events {
		out = append(out, p.Event)
	}
	return out
}

func put(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// does runs fn and reports a clean exit.
func does(fn func(inv agent.Invocation)) func(agent.Invocation) (agent.Result, error) {
	return func(inv agent.Invocation) (agent.Result, error) {
		if fn != nil {
			fn(inv)
		}
		return agent.Result{ExitCode: 0, Duration: time.Millisecond}, nil
	}
}

type harness struct {
	root  string
	store *statestore.Store
	agent *scriptedAgent
	hooks *hookRecorder
	logs  *bytes.Buffer
	slept []time.Duration
}

func newHarness(t *testing.T) *harness {
	lipgloss.SetColorProfile(termenv.Ascii)
	root := t.TempDir()
	return &harness{
		root:  root,
		store: statestore.New(root),
		agent: &scriptedAgent{t: t},
		hooks: &hookRecorder{},
		logs:  &bytes.Buffer{},
	}
}

func (h *harness) controller(cfg Config) *Controller {
	return New(cfg, h.store, h.agent,
		WithLogger(ui.NewLogger(h.logs)),
		WithHooks(h.hooks),
		WithRunID("run-test"),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return ctx.Err()
		}),
	)
}

func TestRun_CeilingExceeded(t *testing.T) {
	h := newHarness(t)
	markerPath := filepath.Join(h.root, "feat", types.MarkerFileName)
	leaveMarker := does(func(agent.Invocation) {
		put(t, markerPath, `{"specPath":"/w","instruction":"again","reason":"context limit"}`)
	})
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){leaveMarker, leaveMarker, leaveMarker}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 3}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCeilingExceeded))
	assert.Equal(t, 3, res.Invocations)
	assert.Len(t, h.agent.seen, 3)
	assert.Equal(t, []string{"start", "restart", "restart", "ceiling"}, h.hooks.names())
}

func TestRun_EmptyEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){does(nil)}

	res, err := h.controller(Config{Goal: "Add OAuth", MaxRestarts: 50, Delay: 2 * time.Second}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Invocations)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Equal(t, "run-test", res.RunID)
	assert.Equal(t, []time.Duration{2 * time.Second}, h.slept)
	assert.Contains(t, h.logs.String(), "no restart request and no workflow state")
	assert.Equal(t, []string{"start", "abandon"}, h.hooks.names())
}

func TestRun_MarkerScenario(t *testing.T) {
	h := newHarness(t)
	markerPath := filepath.Join(h.root, "w", types.MarkerFileName)
	statePath := filepath.Join(h.root, "w", types.StateFileName)

	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		does(func(inv agent.Invocation) {
			assert.Equal(t, `/specflow:start "build it" --auto-restart`, inv.Prompt)
			put(t, statePath, `{"phase":"execution","taskIndex":2,"totalTasks":5,"specPath":"/w"}`)
			put(t, markerPath, `{"specPath":"/w","instruction":"continue task 3","reason":"context limit"}`)
		}),
		does(func(inv agent.Invocation) {
			_, err := os.Stat(markerPath)
			assert.True(t, os.IsNotExist(err), "marker must be consumed before launch")
			assert.Equal(t, 1, inv.Iteration)
			assert.Contains(t, inv.Prompt, "continue task 3")
			assert.Contains(t, inv.Prompt, "/w")
			assert.Contains(t, inv.Prompt, "/specflow:implement")
			put(t, statePath, `{"phase":"execution","taskIndex":5,"totalTasks":5,"specPath":"/w"}`)
		}),
	}

	res, err := h.controller(Config{Goal: "build it", Options: []string{"--auto-restart"}, MaxRestarts: 10}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Invocations)

	require.Len(t, h.hooks.events, 3)
	restart := h.hooks.events[1]
	assert.Equal(t, hooks.EventRestart, restart.Event)
	assert.Equal(t, "/w", restart.SpecPath)
	assert.Equal(t, "context limit", restart.Reason)
	assert.Equal(t, "run-test", restart.RunID)
	assert.Equal(t, hooks.EventComplete, h.hooks.events[2].Event)
}

func TestRun_FirstPassIgnoresStrayRecords(t *testing.T) {
	h := newHarness(t)
	put(t, filepath.Join(h.root, "old", types.StateFileName), `{"phase":"execution","taskIndex":3,"totalTasks":3,"specPath":"/old"}`)
	put(t, filepath.Join(h.root, "old", types.MarkerFileName), `{"specPath":"/old","instruction":"stale"}`)

	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		does(func(inv agent.Invocation) {
			assert.Equal(t, `/specflow:start "fresh goal"`, inv.Prompt)
		}),
	}

	res, err := h.controller(Config{Goal: "fresh goal", MaxRestarts: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Invocations)

	// The stray marker was never consumed.
	_, err = os.Stat(filepath.Join(h.root, "old", types.MarkerFileName))
	assert.NoError(t, err)
}

func TestRun_StateResume(t *testing.T) {
	h := newHarness(t)
	statePath := filepath.Join(h.root, "auth", types.StateFileName)

	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		does(func(agent.Invocation) {
			put(t, statePath, `{"phase":"execution","taskIndex":1,"totalTasks":3,"specPath":"/specs/auth"}`)
		}),
		does(func(inv agent.Invocation) {
			assert.Contains(t, inv.Prompt, "Resume the workflow in /specs/auth.")
			assert.Contains(t, inv.Prompt, "task 2 of 3")
			put(t, statePath, `{"phase":"execution","taskIndex":3,"totalTasks":3,"specPath":"/specs/auth"}`)
		}),
	}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Invocations)
	assert.Zero(t, res.Stalls)
}

func TestRun_StallIsAdvisory(t *testing.T) {
	h := newHarness(t)
	statePath := filepath.Join(h.root, "s", types.StateFileName)
	stuck := `{"phase":"design","taskIndex":0,"totalTasks":0,"specPath":"/s"}`

	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		does(func(agent.Invocation) { put(t, statePath, stuck) }),
		does(nil),
		does(func(agent.Invocation) {
			put(t, statePath, `{"phase":"execution","taskIndex":4,"totalTasks":4,"specPath":"/s"}`)
		}),
	}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Invocations)
	assert.Equal(t, 1, res.Stalls)
	assert.Contains(t, h.logs.String(), "workflow state unchanged by iteration 1")
}

func TestRun_AgentFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		func(agent.Invocation) (agent.Result, error) {
			put(t, filepath.Join(h.root, types.MarkerFileName), `{"specPath":"/x","instruction":"retry"}`)
			return agent.Result{ExitCode: 1}, nil
		},
		func(agent.Invocation) (agent.Result, error) {
			return agent.Result{ExitCode: -1, Signaled: true}, nil
		},
	}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Equal(t, 2, res.Invocations)
	assert.Contains(t, h.logs.String(), "agent exited with code 1")
	assert.Contains(t, h.logs.String(), "killed by signal")
}

func TestRun_CorruptionIsFatal(t *testing.T) {
	h := newHarness(t)
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		does(func(agent.Invocation) {
			put(t, filepath.Join(h.root, "w", types.StateFileName), `{"phase": "execution", "taskIndex":`)
		}),
	}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(context.Background())
	var corrupt *statestore.CorruptRecordError
	require.True(t, errors.As(err, &corrupt), "got %v", err)
	assert.Equal(t, statestore.KindState, corrupt.Kind)
	assert.Equal(t, 1, res.Invocations)
	assert.Zero(t, res.Outcome)
}

func TestRun_AgentNotFoundIsFatal(t *testing.T) {
	h := newHarness(t)
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		func(agent.Invocation) (agent.Result, error) {
			return agent.Result{}, agent.ErrAgentNotFound
		},
	}
	_, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(context.Background())
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestRun_Interrupted(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.agent.steps = []func(agent.Invocation) (agent.Result, error){
		func(agent.Invocation) (agent.Result, error) {
			cancel()
			return agent.Result{}, ctx.Err()
		},
	}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, res.Invocations)
	assert.Equal(t, []string{"start"}, h.hooks.names())
}

func TestRun_InterruptedDuringDelay(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){does(func(agent.Invocation) { cancel() })}

	c := New(Config{Goal: "g", MaxRestarts: 5, Delay: time.Hour}, h.store, h.agent, WithLogger(ui.NewLogger(h.logs)))
	start := time.Now()
	_, err := c.Run(ctx)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_HookFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.hooks.err = errors.New("exit status 3")
	h.agent.steps = []func(agent.Invocation) (agent.Result, error){does(nil)}

	res, err := h.controller(Config{Goal: "g", MaxRestarts: 5}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Contains(t, h.logs.String(), "hook on_start failed: exit status 3")
}

func TestRun_ZeroCeiling(t *testing.T) {
	h := newHarness(t)
	res, err := h.controller(Config{Goal: "g", MaxRestarts: 0}).Run(context.Background())
	assert.ErrorIs(t, err, ErrCeilingExceeded)
	assert.Zero(t, res.Invocations)
}

func TestNew_GeneratesRunID(t *testing.T) {
	a := New(Config{}, statestore.New(t.TempDir()), &scriptedAgent{t: t})
	b := New(Config{}, statestore.New(t.TempDir()), &scriptedAgent{t: t})
	assert.Len(t, a.RunID(), 26)
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
