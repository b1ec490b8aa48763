package main

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/steveyegge/respawn/internal/agent"
	"github.com/steveyegge/respawn/internal/config"
	"github.com/steveyegge/respawn/internal/debug"
	"github.com/steveyegge/respawn/internal/hooks"
	"github.com/steveyegge/respawn/internal/lockfile"
	"github.com/steveyegge/respawn/internal/loop"
	"github.com/steveyegge/respawn/internal/statestore"
	"github.com/steveyegge/respawn/internal/telemetry"
	"github.com/steveyegge/respawn/internal/ui"
)

func runRoot(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return usageErrorf("a workflow goal is required")
	}
	applyFlagOverrides(cmd)

	s, err := config.Load()
	if err != nil {
		return err
	}
	goal := args[0]
	options := injectRestartFlag(args[1:], s.RestartFlag)

	runner := agent.NewCLIRunner(s.Agent, s.AgentArgs...)
	if _, err := runner.Resolve(); err != nil {
		return err
	}
	runner.Dir = s.AgentDir
	specDir, err := filepath.Abs(s.SpecDir)
	if err != nil {
		return err
	}
	// The agent may run elsewhere, so tell it where records belong.
	runner.Env = []string{"RESPAWN_SPEC_DIR=" + specDir}

	runID := ulid.Make().String()
	if s.Lock {
		lock, err := lockfile.Acquire(s.StateDir, lockfile.LockInfo{RunID: runID, Goal: goal})
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	var logOut io.Writer = cmd.ErrOrStderr()
	if debug.IsQuiet() {
		logOut = io.Discard
	}
	log := ui.NewLogger(logOut)

	hookRunner := hooks.NewRunner(s.HooksDir)
	for _, ev := range hooks.Events {
		if hookRunner.HookExists(ev) {
			debug.Logf("hook on_%s installed in %s\n", ev, s.HooksDir)
		}
	}

	ctrl := loop.New(loop.Config{
		Goal:        goal,
		Options:     options,
		Namespace:   s.Namespace,
		MaxRestarts: s.MaxRestarts,
		Delay:       s.DelayDuration(),
	},
		statestore.New(s.SpecDir),
		runner,
		loop.WithRunID(runID),
		loop.WithLogger(log),
		loop.WithHooks(hookRunner),
		loop.WithEventLog(debug.NewEventLog(s.StateDir)),
		loop.WithInstruments(telemetry.NewLoopInstruments(nil)),
	)

	debug.Logf("agent: %s %s\n", s.Agent, strings.Join(s.AgentArgs, " "))
	debug.Logf("spec dir: %s, max restarts: %d, delay: %s\n", s.SpecDir, s.MaxRestarts, s.DelayDuration())

	res, err := ctrl.Run(cmd.Context())
	if err != nil {
		return err
	}
	if res.Outcome == loop.OutcomeAbandoned {
		log.Info("stopped after %d invocation(s): nothing left to resume", res.Invocations)
	}
	return nil
}

// injectRestartFlag appends flag to options unless it is already present.
func injectRestartFlag(options []string, flag string) []string {
	out := append([]string{}, options...)
	if flag == "" {
		return out
	}
	for _, o := range out {
		if o == flag || strings.HasPrefix(o, flag+"=") {
			return out
		}
	}
	return append(out, flag)
}

