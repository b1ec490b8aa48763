package hooks

import (
	"bytes"
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxOutputBytes = 1024

func startHookSpan(ctx context.Context, hookPath string, p Payload) (context.Context, trace.Span) {
	tracer := otel.Tracer("github.com/steveyegge/respawn/hooks")
	return tracer.Start(ctx, "hook.exec",
		trace.WithAttributes(
			attribute.String("hook.event", p.Event),
			attribute.String("hook.path", hookPath),
			attribute.String("respawn.run_id", p.RunID),
			attribute.Int("respawn.iteration", p.Iteration),
		),
	)
}

// addHookOutputEvents adds stdout/stderr from a hook execution as span events.
// Each buffer is only recorded if non-empty; output is truncated to maxOutputBytes.
func addHookOutputEvents(span trace.Span, stdout, stderr *bytes.Buffer) {
	if n := stdout.Len(); n > 0 {
		span.AddEvent("hook.stdout", trace.WithAttributes(
			attribute.String("output", truncateOutput(stdout.String())),
			attribute.Int("bytes", n),
		))
	}
	if n := stderr.Len(); n > 0 {
		span.AddEvent("hook.stderr", trace.WithAttributes(
			attribute.String("output", truncateOutput(stderr.String())),
			attribute.Int("bytes", n),
		))
	}
}

func truncateOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "...(truncated)"
}
