package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LoopInstruments are the supervisor's metrics. The zero value is not
// usable; build one with NewLoopInstruments.
type LoopInstruments struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	consumed    metric.Int64Counter
	stalls      metric.Int64Counter
}

// NewLoopInstruments registers the loop metrics on m (the global meter when nil).
func NewLoopInstruments(m metric.Meter) *LoopInstruments {
	if m == nil {
		m = Meter("")
	}
	li := &LoopInstruments{}
	// Instrument creation only fails on invalid names; the returned
	// instruments are still safe no-ops in that case.
	li.invocations, _ = m.Int64Counter("respawn.agent.invocations",
		metric.WithDescription("Agent launches"),
		metric.WithUnit("{invocation}"),
	)
	li.duration, _ = m.Float64Histogram("respawn.agent.duration",
		metric.WithDescription("Agent run time"),
		metric.WithUnit("ms"),
	)
	li.consumed, _ = m.Int64Counter("respawn.markers.consumed",
		metric.WithDescription("Restart markers deleted before a relaunch"),
		metric.WithUnit("{marker}"),
	)
	li.stalls, _ = m.Int64Counter("respawn.stalls",
		metric.WithDescription("Passes that left the workflow state unchanged"),
		metric.WithUnit("{pass}"),
	)
	return li
}

// AgentRun records one agent invocation.
func (li *LoopInstruments) AgentRun(ctx context.Context, runID, kind string, exitCode int, d time.Duration) {
	if li == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("respawn.run_id", runID),
		attribute.String("respawn.prompt_kind", kind),
		attribute.Int("respawn.exit_code", exitCode),
	)
	li.invocations.Add(ctx, 1, attrs)
	li.duration.Record(ctx, float64(d.Milliseconds()), attrs)
}

// MarkerConsumed counts a deleted restart marker.
func (li *LoopInstruments) MarkerConsumed(ctx context.Context, runID string) {
	if li == nil {
		return
	}
	li.consumed.Add(ctx, 1, metric.WithAttributes(attribute.String("respawn.run_id", runID)))
}

// Stall counts a pass that made no visible progress.
func (li *LoopInstruments) Stall(ctx context.Context, runID string) {
	if li == nil {
		return
	}
	li.stalls.Add(ctx, 1, metric.WithAttributes(attribute.String("respawn.run_id", runID)))
}
