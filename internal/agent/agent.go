// Package agent runs the supervised agent CLI as a foreground subprocess.
//
// The exit status of the agent is advisory. Agents routinely exit non-zero
// when they hand control back to request a restart, so nothing short of a
// missing executable is reported as an error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// ErrAgentNotFound means the agent executable could not be located.
var ErrAgentNotFound = errors.New("agent executable not found")

// Invocation is one launch of the agent.
type Invocation struct {
	Prompt    string
	Iteration int
	RunID     string
}

// Result describes how an invocation ended.
type Result struct {
	ExitCode int
	Signaled bool
	Duration time.Duration
	// WaitErr holds an unexpected error from waiting on the process. Like the
	// exit code it is informational only.
	WaitErr error
}

// Success reports a clean zero exit.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.Signaled && r.WaitErr == nil
}

// Runner launches the agent and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// CLIRunner runs `Command Args... <prompt>` in Dir (the current directory
// when empty), adding Env to the inherited environment.
type CLIRunner struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	path string
}

// NewCLIRunner creates a runner attached to the current terminal.
func NewCLIRunner(command string, args ...string) *CLIRunner {
	return &CLIRunner{
		Command: command,
		Args:    args,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Resolve locates the executable on PATH (or at the given path).
func (r *CLIRunner) Resolve() (string, error) {
	if r.path != "" {
		return r.path, nil
	}
	if r.Command == "" {
		return "", fmt.Errorf("%w: no agent command configured", ErrAgentNotFound)
	}
	p, err := exec.LookPath(r.Command)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrAgentNotFound, r.Command, err)
	}
	// Dir may differ from our working directory.
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	r.path = p
	return p, nil
}

// Run starts the agent and waits for it. The child is not tied
// to ctx: cancelling ctx returns immediately with ctx.Err() but leaves the
// process to whoever owns the terminal's process group.
func (r *CLIRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	path, err := r.Resolve()
	if err != nil {
		return Result{}, err
	}

	args := append(append([]string{}, r.Args...), inv.Prompt)
	// #nosec G204 -- the agent command is operator configuration
	cmd := exec.Command(path, args...)
	cmd.Dir = r.Dir
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env,
		"RESPAWN_ITERATION="+strconv.Itoa(inv.Iteration),
		"RESPAWN_RUN_ID="+inv.RunID,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrAgentNotFound, path, err)
		}
		return Result{}, fmt.Errorf("start agent: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		return Result{Duration: time.Since(start)}, ctx.Err()
	case err := <-done:
		return resultFrom(cmd.ProcessState, err, time.Since(start)), nil
	}
}

func resultFrom(ps *os.ProcessState, waitErr error, d time.Duration) Result {
	res := Result{Duration: d}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		ps = exitErr.ProcessState
	default:
		res.WaitErr = waitErr
	}
	if ps == nil {
		res.ExitCode = -1
		return res
	}
	res.ExitCode = ps.ExitCode()
	if !ps.Exited() {
		res.Signaled = true
	}
	return res
}
