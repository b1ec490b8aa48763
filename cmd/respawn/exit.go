package main

import (
	"errors"
	"fmt"

	"github.com/steveyegge/respawn/internal/agent"
	"github.com/steveyegge/respawn/internal/config"
	"github.com/steveyegge/respawn/internal/lockfile"
	"github.com/steveyegge/respawn/internal/loop"
	"github.com/steveyegge/respawn/internal/statestore"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// usageError is a command-line mistake; the usage text is printed with it.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, loop.ErrInterrupted):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// describeError turns an error into the message shown to the user. An empty
// message means nothing should be printed.
func describeError(err error) (msg string, showUsage bool) {
	var (
		usage   *usageError
		corrupt *statestore.CorruptRecordError
		held    *lockfile.HeldError
	)
	switch {
	case errors.Is(err, loop.ErrInterrupted):
		return "", false
	case errors.As(err, &usage):
		return usage.msg, true
	case errors.Is(err, loop.ErrCeilingExceeded):
		return err.Error() + "; raise --max-restarts or inspect the workflow state", false
	case errors.As(err, &corrupt):
		return fmt.Sprintf("%v\nFix or remove %s and run again.", err, corrupt.Path), false
	case errors.As(err, &held):
		return err.Error() + "\nUse --no-lock to run anyway.", false
	case errors.Is(err, agent.ErrAgentNotFound):
		return err.Error() + "\nSet --agent or RESPAWN_AGENT to the agent executable.", false
	case errors.Is(err, config.ErrInvalid):
		return err.Error(), false
	default:
		return err.Error(), false
	}
}
