// Package loop drives the restart cycle: launch the agent, inspect what it
// left on disk, and either relaunch it with a resumption prompt or stop.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/respawn/internal/agent"
	"github.com/steveyegge/respawn/internal/debug"
	"github.com/steveyegge/respawn/internal/hooks"
	"github.com/steveyegge/respawn/internal/telemetry"
	"github.com/steveyegge/respawn/internal/types"
	"github.com/steveyegge/respawn/internal/ui"
)

var (
	// ErrCeilingExceeded means the agent was launched MaxRestarts times
	// without the workflow finishing.
	ErrCeilingExceeded = errors.New("restart ceiling exceeded")
	// ErrInterrupted means the run was cancelled by a signal.
	ErrInterrupted = errors.New("interrupted")
)

// Outcome is how a successful run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Config is the fixed input of one run.
type Config struct {
	Goal        string
	Options     []string
	Namespace   string
	MaxRestarts int
	Delay       time.Duration
}

// Store is the part of statestore.Store the controller needs.
type Store interface {
	Load() (types.Snapshot, error)
	ConsumeMarker(m *types.RestartMarker) error
}

// Hooks runs lifecycle hooks. *hooks.Runner implements it.
type Hooks interface {
	RunSync(ctx context.Context, p hooks.Payload) error
}

// Logger receives progress lines. *ui.Logger implements it.
type Logger interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Detail(format string, args ...any)
}

// Result summarizes a finished run.
type Result struct {
	Outcome     Outcome
	Invocations int
	Stalls      int
	RunID       string
}

// Controller runs the loop. Build it with New.
type Controller struct {
	cfg    Config
	store  Store
	runner agent.Runner

	runID  string
	log    Logger
	hooks  Hooks
	events *debug.EventLog
	inst   *telemetry.LoopInstruments
	tracer trace.Tracer
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes a Controller.
type Option func(*Controller)

func WithLogger(l Logger) Option { return func(c *Controller) { c.log = l } }

func WithHooks(h Hooks) Option { return func(c *Controller) { c.hooks = h } }

func WithEventLog(l *debug.EventLog) Option { return func(c *Controller) { c.events = l } }

func WithInstruments(li *telemetry.LoopInstruments) Option {
	return func(c *Controller) { c.inst = li }
}

// WithRunID fixes the run ID instead of generating a ULID.
func WithRunID(id string) Option { return func(c *Controller) { c.runID = id } }

// WithSleep replaces the settle delay between passes. Tests use it to avoid
// real waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// New creates a controller.
func New(cfg Config, store Store, runner agent.Runner, opts ...Option) *Controller {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	c := &Controller{
		cfg:    cfg,
		store:  store,
		runner: runner,
		log:    ui.NewLogger(os.Stderr),
		tracer: telemetry.Tracer("github.com/steveyegge/respawn/loop"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = ulid.Make().String()
	}
	return c
}

// RunID identifies this run in logs, hooks and telemetry.
func (c *Controller) RunID() string {
	return c.runID
}

type step int

const (
	stepContinue step = iota
	stepCompleted
	stepAbandoned
)

// passState carries what one pass learned into the next.
type passState struct {
	restarts int
	snap     types.Snapshot
}

// Run executes passes until the workflow completes, there is nothing left to
// resume, the ceiling is hit, or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	res := Result{RunID: c.runID}

	c.log.Info("run %s: %q", c.runID, c.cfg.Goal)
	c.events.Log("start", c.runID, fmt.Sprintf("goal=%q max=%d", c.cfg.Goal, c.cfg.MaxRestarts))
	c.fire(ctx, hooks.Payload{Event: hooks.EventStart, Goal: c.cfg.Goal})

	var ps passState
	for {
		if ctx.Err() != nil {
			return c.interrupted(res)
		}

		if ps.restarts >= c.cfg.MaxRestarts {
			c.log.Error("restart ceiling reached: %d launches without completing", ps.restarts)
			c.events.Log("ceiling", c.runID, fmt.Sprintf("invocations=%d", res.Invocations))
			c.fire(ctx, hooks.Payload{Event: hooks.EventCeiling, Iteration: ps.restarts})
			return res, fmt.Errorf("%w after %d invocations", ErrCeilingExceeded, res.Invocations)
		}

		st, err := c.pass(ctx, &ps, &res)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return c.interrupted(res)
			}
			c.events.Log("error", c.runID, err.Error())
			return res, err
		}

		switch st {
		case stepCompleted:
			res.Outcome = OutcomeCompleted
			c.log.Success("workflow complete after %d invocation(s)", res.Invocations)
			c.events.Log("complete", c.runID, fmt.Sprintf("invocations=%d", res.Invocations))
			c.fire(ctx, hooks.Payload{Event: hooks.EventComplete, Iteration: ps.restarts, SpecPath: specPathOf(ps.snap)})
			return res, nil
		case stepAbandoned:
			res.Outcome = OutcomeAbandoned
			c.events.Log("abandon", c.runID, fmt.Sprintf("invocations=%d", res.Invocations))
			c.fire(ctx, hooks.Payload{Event: hooks.EventAbandon, Iteration: ps.restarts})
			return res, nil
		}
	}
}

// pass runs steps 2 through 7 of a single iteration.
func (c *Controller) pass(ctx context.Context, ps *passState, res *Result) (_ step, retErr error) {
	iter := ps.restarts
	ctx, span := c.tracer.Start(ctx, "respawn.pass", trace.WithAttributes(
		attribute.String("respawn.run_id", c.runID),
		attribute.Int("respawn.iteration", iter),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	before := ps.snap
	if iter > 0 && workflowDone(before) {
		return stepCompleted, nil
	}

	prompt, ok := Synthesize(PromptInput{
		Iteration: iter,
		Goal:      c.cfg.Goal,
		Options:   c.cfg.Options,
		Namespace: c.cfg.Namespace,
		Snapshot:  before,
	})
	if !ok {
		c.log.Warn("nothing to resume: no restart request and no workflow state")
		return stepAbandoned, nil
	}
	span.SetAttributes(attribute.String("respawn.prompt_kind", prompt.Kind.String()))

	if prompt.ConsumeMarker {
		if err := c.store.ConsumeMarker(prompt.Marker); err != nil {
			return stepContinue, err
		}
		c.inst.MarkerConsumed(ctx, c.runID)
		reason := prompt.Marker.Reason
		if reason == "" {
			reason = "unspecified"
		}
		c.log.Info("restart requested (%s)", reason)
		c.events.Log("marker-consumed", c.runID, fmt.Sprintf("path=%s reason=%s", prompt.Marker.Path, reason))
	}
	if iter > 0 {
		c.fire(ctx, hooks.Payload{
			Event:     hooks.EventRestart,
			Iteration: iter,
			SpecPath:  prompt.SpecPath,
			Reason:    markerReason(prompt.Marker),
		})
	}

	c.log.Info("launching agent (iteration %d, %s prompt)", iter, prompt.Kind)
	c.log.Detail("%s", ui.Preview(prompt.Text, 100))
	debug.Logf("prompt for iteration %d:\n%s\n", iter, prompt.Text)
	c.events.Log("launch", c.runID, fmt.Sprintf("iteration=%d kind=%s", iter, prompt.Kind))

	out, err := c.runner.Run(ctx, agent.Invocation{Prompt: prompt.Text, Iteration: iter, RunID: c.runID})
	res.Invocations++
	ps.restarts++
	if err != nil {
		return stepContinue, err
	}
	c.inst.AgentRun(ctx, c.runID, prompt.Kind.String(), out.ExitCode, out.Duration)
	span.SetAttributes(attribute.Int("respawn.exit_code", out.ExitCode))
	c.reportExit(out)

	if err := c.sleep(ctx, c.cfg.Delay); err != nil {
		return stepContinue, err
	}

	after, err := c.store.Load()
	if err != nil {
		return stepContinue, err
	}
	ps.snap = after

	if after.State != nil && IsComplete(after.State) {
		return stepCompleted, nil
	}
	if after.Empty() {
		c.log.Warn("agent left no restart request and no workflow state; assuming it finished or was cancelled")
		return stepAbandoned, nil
	}

	if c.stalled(before, after) {
		res.Stalls++
		c.inst.Stall(ctx, c.runID)
		c.log.Warn("workflow state unchanged by iteration %d and no restart was requested", iter)
		c.events.Log("stall", c.runID, fmt.Sprintf("iteration=%d", iter))
	}
	return stepContinue, nil
}

// stalled reports a pass that left the state record byte-for-byte as it
// found it without asking for a restart. It is advisory only.
func (c *Controller) stalled(before, after types.Snapshot) bool {
	if after.Marker != nil || before.State == nil || after.State == nil {
		return false
	}
	return before.State.Fingerprint != "" && before.State.Fingerprint == after.State.Fingerprint
}

func (c *Controller) reportExit(out agent.Result) {
	switch {
	case out.Signaled:
		c.log.Warn("agent killed by signal after %s", out.Duration.Round(time.Second))
	case out.WaitErr != nil:
		c.log.Warn("agent wait failed after %s: %v", out.Duration.Round(time.Second), out.WaitErr)
	case out.ExitCode != 0:
		c.log.Warn("agent exited with code %d after %s", out.ExitCode, out.Duration.Round(time.Second))
	default:
		c.log.Info("agent exited after %s", out.Duration.Round(time.Second))
	}
}

func (c *Controller) interrupted(res Result) (Result, error) {
	c.log.Warn("interrupted after %d invocation(s)", res.Invocations)
	c.events.Log("interrupted", c.runID, fmt.Sprintf("invocations=%d", res.Invocations))
	return res, ErrInterrupted
}

// fire runs a hook. Failures are logged and never change the run.
func (c *Controller) fire(ctx context.Context, p hooks.Payload) {
	if c.hooks == nil {
		return
	}
	p.RunID = c.runID
	if p.Goal == "" {
		p.Goal = c.cfg.Goal
	}
	if err := c.hooks.RunSync(ctx, p); err != nil {
		c.log.Warn("hook on_%s failed: %v", p.Event, err)
	}
}

func markerReason(m *types.RestartMarker) string {
	if m == nil {
		return ""
	}
	return m.Reason
}

func specPathOf(snap types.Snapshot) string {
	if snap.State != nil {
		return snap.State.SpecPath
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
