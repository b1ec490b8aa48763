//go:build unix

package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sys/unix"
)

// runHook executes the hook and enforces a timeout, killing the process group
// on expiration so descendant processes are terminated too.
func (r *Runner) runHook(parent context.Context, hookPath string, p Payload, payload []byte) (retErr error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	ctx, span := startHookSpan(ctx, hookPath, p)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	// #nosec G204 -- hookPath is from the configured hooks directory
	cmd := exec.Command(hookPath, p.Event)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = hookEnv(p)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Scripts may background children; a process group lets a timeout take
	// all of them down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("kill process group: %w", err)
		}
		<-done
		addHookOutputEvents(span, &stdout, &stderr)
		return fmt.Errorf("hook %s: %w", p.Event, ctx.Err())
	case err := <-done:
		addHookOutputEvents(span, &stdout, &stderr)
		if err != nil {
			return fmt.Errorf("hook %s: %w", p.Event, err)
		}
		return nil
	}
}
