package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentkernel/core/internal/kernel/telemetry"
)

// TraceStage records a span marking that req cleared every prior stage,
// the last link in the admission chain before the scheduler. Grounded on
// the otel span style of runtime/toolregistry/executor/executor.go.
type TraceStage struct {
	tracer telemetry.Tracer
}

// NewTraceStage builds a TraceStage emitting spans through tracer.
func NewTraceStage(tracer telemetry.Tracer) *TraceStage {
	return &TraceStage{tracer: tracer}
}

// Process implements Processor.
func (t *TraceStage) Process(ctx context.Context, req Request) error {
	_, span := t.tracer.Start(ctx, "pipeline.admit",
		trace.WithAttributes(
			attribute.String("request.id", req.ID.String()),
			attribute.String("request.kind", req.Kind),
			attribute.String("request.subject", req.Subject.String()),
		),
	)
	defer span.End()
	span.SetStatus(codes.Ok, "admitted")
	return nil
}
