//go:build unix

package agent

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shRunner(script string) *CLIRunner {
	r := NewCLIRunner("sh", "-c", script, "sh")
	r.Stdin = strings.NewReader("")
	r.Stdout = &bytes.Buffer{}
	r.Stderr = &bytes.Buffer{}
	return r
}

func TestCLIRunner_PassesPromptAsLastArgument(t *testing.T) {
	out := filepath.Join(t.TempDir(), "prompt.txt")
	r := shRunner(`printf '%s' "$1" > "$OUT"`)
	r.Env = []string{"OUT=" + out}

	res, err := r.Run(context.Background(), Invocation{Prompt: "/specflow:start \"goal\" --auto-restart", Iteration: 0, RunID: "run1"})
	require.NoError(t, err)
	assert.True(t, res.Success())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "/specflow:start \"goal\" --auto-restart", string(got))
}

func TestCLIRunner_ExportsRunEnvironment(t *testing.T) {
	r := shRunner(`echo "$RESPAWN_RUN_ID:$RESPAWN_ITERATION"`)
	res, err := r.Run(context.Background(), Invocation{Prompt: "p", Iteration: 4, RunID: "01HX"})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "01HX:4\n", r.Stdout.(*bytes.Buffer).String())
}

func TestCLIRunner_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "pwd.txt")
	r := shRunner(`pwd -P > "$OUT"`)
	r.Dir = dir
	r.Env = []string{"OUT=" + out}

	_, err := r.Run(context.Background(), Invocation{Prompt: "p"})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(string(got)))
}

func TestCLIRunner_ResolveReturnsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	t.Chdir(dir)

	p, err := NewCLIRunner("./agent").Resolve()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p), p)

	r := NewCLIRunner("./agent")
	r.Dir = t.TempDir()
	r.Stdin = strings.NewReader("")
	res, err := r.Run(context.Background(), Invocation{Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, res.Success())
}

func TestCLIRunner_NonZeroExitIsNotAnError(t *testing.T) {
	r := shRunner(`exit 3`)
	res, err := r.Run(context.Background(), Invocation{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Signaled)
	assert.False(t, res.Success())
}

func TestCLIRunner_SignaledExitIsNotAnError(t *testing.T) {
	r := shRunner(`kill -9 $$`)
	res, err := r.Run(context.Background(), Invocation{Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, res.Signaled)
	assert.Equal(t, -1, res.ExitCode)
}

func TestCLIRunner_MissingExecutable(t *testing.T) {
	r := NewCLIRunner("definitely-not-an-agent-binary-7c1d")
	_, err := r.Run(context.Background(), Invocation{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAgentNotFound))

	_, err = NewCLIRunner("").Resolve()
	assert.True(t, errors.Is(err, ErrAgentNotFound))
}

func TestCLIRunner_CancelDoesNotWaitForAgent(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "finished")
	r := shRunner(`sleep 1; touch "$DONE"`)
	r.Env = []string{"DONE=" + marker}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Run(ctx, Invocation{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	// The agent itself was left running and completes on its own.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(marker)
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
}
