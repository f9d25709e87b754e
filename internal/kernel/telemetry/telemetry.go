// Package telemetry defines the kernel's small logging/metrics/tracing
// seams, grounded on runtime/agents/telemetry and runtime/agent/telemetry:
// a Logger/Metrics/Tracer trio that components (PluginHost, Orchestrator,
// the pipeline's TraceStage) take as dependencies instead of reaching for a
// global. A Noop implementation keeps every package usable
// without configuring an observability backend; a Clue+OTel implementation
// backs production kernels.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the kernel. The
// interface is intentionally small so tests can provide lightweight stubs
// without pulling in a logging backend.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for kernel instrumentation:
// admission counts, queue depth, plugin invocation latency, and similar.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so kernel code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
