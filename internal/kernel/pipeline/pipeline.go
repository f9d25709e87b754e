// Package pipeline implements the kernel's admission chain: an ordered
// sequence of Processor stages — validate, permission, rate-limit, trace —
// that a request passes through before the scheduler admits it. The
// orchestrator runs it for submit_task only; plugin invocations and agent
// spawns are queued without passing through it. A stage that rejects the request stops the
// chain immediately. Grounded on the deny-first gate shape
// in runtime/a2a/policy and the token-bucket middleware in
// features/model/middleware/ratelimit.go, composed into Goa's familiar
// ordered-middleware style.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentkernel/core/internal/kernel/id"
)

// Request is one unit of admission work flowing through the pipeline: a
// task submission or a plugin invocation attempt.
type Request struct {
	ID      id.Id
	Subject id.Id  // the plugin or agent this request concerns, zero if N/A
	Kind    string // schema lookup key for the validate stage
	Effect  string // capability effect the permission stage checks, empty to skip
	Target  string // effect target (host, path, env key) the permission stage narrows against, empty to skip narrowing
	Payload json.RawMessage
}

// Processor is one pipeline stage. Returning a non-nil error stops the
// chain; the caller's original error is preserved via %w so the stage
// reason survives to the orchestrator's failure event.
type Processor interface {
	Process(ctx context.Context, req Request) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, req Request) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, req Request) error { return f(ctx, req) }

// Pipeline runs its stages in registration order, stopping at the first
// error.
type Pipeline struct {
	stages []namedProcessor
}

type namedProcessor struct {
	name string
	proc Processor
}

// New constructs an empty Pipeline. Stages are added with Use, in the
// order they should run.
func New() *Pipeline {
	return &Pipeline{}
}

// Use appends a named stage to the pipeline.
func (p *Pipeline) Use(name string, proc Processor) *Pipeline {
	p.stages = append(p.stages, namedProcessor{name: name, proc: proc})
	return p
}

// Run executes every stage in order against req, stopping and returning
// the first stage's error, wrapped with the stage's name for
// diagnosability.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	for _, s := range p.stages {
		if err := s.proc.Process(ctx, req); err != nil {
			return fmt.Errorf("pipeline: stage %q: %w", s.name, err)
		}
	}
	return nil
}
