// Package agentregistry spawns and tracks the agents a kernel is running:
// one goroutine per agent pumping model output into a monotonically
// sequenced stream of event.AgentPartialOutput, terminated by
// AgentCompleted or AgentError. Grounded on the chunk-pump shape of
// features/model/anthropic/stream.go's anthropicStreamer and the
// hooks/stream partial-output event pattern, generalized from a
// single-run streamer into a registry of independently cancellable
// agents.
package agentregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentkernel/core/internal/kernel/event"
	"github.com/agentkernel/core/internal/kernel/id"
)

// Sink receives every event an agent produces. The orchestrator supplies
// this as its mailbox enqueue function; tests can supply a simple
// channel-backed sink.
type Sink func(event.Event)

type agentState struct {
	cancel   context.CancelFunc
	sequence uint64
	mu       sync.Mutex
}

// Registry owns every spawned agent's goroutine and cancellation handle.
type Registry struct {
	mu     sync.RWMutex
	agents map[id.Id]*agentState

	client Client
	sink   Sink
}

// New constructs a Registry that streams model output through client and
// publishes every resulting event to sink.
func New(client Client, sink Sink) *Registry {
	return &Registry{
		agents: make(map[id.Id]*agentState),
		client: client,
		sink:   sink,
	}
}

// Spawn starts agentID running req, publishing an AgentSpawned event
// (carrying correlation) followed by AgentPartialOutput chunks, each
// stamped with a per-agent monotonic sequence, and a terminal
// AgentCompleted or AgentError. Spawn returns once the streaming call has
// started; it does not block for completion.
func (r *Registry) Spawn(ctx context.Context, agentID, correlation id.Id, req Request) error {
	agentCtx, cancel := context.WithCancel(ctx)
	state := &agentState{cancel: cancel}

	r.mu.Lock()
	r.agents[agentID] = state
	r.mu.Unlock()

	stream, err := r.client.Stream(agentCtx, req)
	if err != nil {
		cancel()
		r.mu.Lock()
		delete(r.agents, agentID)
		r.mu.Unlock()
		r.sink(event.NewAgentError(agentID, event.ErrInternal, err.Error()))
		return err
	}

	r.sink(event.NewAgentSpawned(agentID, correlation, req.Prompt))
	go r.pump(agentCtx, agentID, state, stream)
	return nil
}

func (r *Registry) pump(ctx context.Context, agentID id.Id, state *agentState, stream Streamer) {
	defer func() {
		if rec := recover(); rec != nil {
			r.sink(event.NewAgentError(agentID, event.ErrExecutorPanic, fmt.Sprintf("%v", rec)))
		}
	}()
	defer stream.Close()
	defer func() {
		r.mu.Lock()
		delete(r.agents, agentID)
		r.mu.Unlock()
	}()

	var output []byte
	for {
		chunk, err := stream.Recv()
		if err != nil {
			r.sink(event.NewAgentError(agentID, classifyStreamErr(ctx, err), err.Error()))
			return
		}
		if chunk.Done {
			r.sink(event.NewAgentCompleted(agentID, string(output)))
			return
		}
		if chunk.Text == "" {
			continue
		}
		output = append(output, chunk.Text...)

		state.mu.Lock()
		seq := state.sequence
		state.sequence++
		state.mu.Unlock()
		r.sink(event.NewAgentPartialOutput(agentID, chunk.Text, seq))
	}
}

// classifyStreamErr maps a stream failure into the closed ErrorKind
// taxonomy: cancellation and deadline expiry are distinguished from
// ordinary stream faults so downstream consumers can tell a deliberate
// Cancel from a genuine model-side failure.
func classifyStreamErr(ctx context.Context, err error) event.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return event.ErrCancelledCooperative
	case errors.Is(err, context.DeadlineExceeded):
		return event.ErrTimeout
	case ctx.Err() != nil:
		return event.ErrCancelledCooperative
	default:
		return event.ErrSandboxFault
	}
}

// Cancel stops agentID's stream, if it is still running. Cancelling an
// unknown or already-finished agent is a no-op.
func (r *Registry) Cancel(agentID id.Id) {
	r.mu.RLock()
	state, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	state.cancel()
}

// Running reports whether agentID currently has an active stream.
func (r *Registry) Running(agentID id.Id) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}
