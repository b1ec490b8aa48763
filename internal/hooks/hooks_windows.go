//go:build windows

package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"go.opentelemetry.io/otel/codes"
)

// runHook executes the hook and enforces a timeout on Windows.
// Windows lacks Unix-style process groups; on timeout we best-effort kill
// the started process. Descendants may survive if they detach.
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
	cmd := exec.CommandContext(ctx, hookPath, p.Event)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = hookEnv(p)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	addHookOutputEvents(span, &stdout, &stderr)
	if ctx.Err() != nil {
		return fmt.Errorf("hook %s: %w", p.Event, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("hook %s: %w", p.Event, err)
	}
	return nil
}
