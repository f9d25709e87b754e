// Package event defines the kernel's closed SystemEvent catalogue: the
// tagged variant set describing every observable kernel transition. Event is
// the interface every variant implements; adding a twelfth variant is a
// deliberate, reviewed compatibility break, not a routine change.
//
// Event payloads are encoded in two forms (see codec.go): a self-describing
// JSON envelope that the durable sinks persist, and a compact binary frame
// (WriteFrame/ReadFrame). The in-process mailbox passes Event values
// directly and the external plugin channel carries raw payload bytes, so
// neither uses the binary frame.
package event

import (
	"time"

	"github.com/agentkernel/core/internal/kernel/id"
)

// Type names one of the eleven closed SystemEvent variants.
type Type string

const (
	TypeTaskSubmitted     Type = "task_submitted"
	TypeTaskCompleted     Type = "task_completed"
	TypeTaskFailed        Type = "task_failed"
	TypePluginLoaded      Type = "plugin_loaded"
	TypePluginInvoked     Type = "plugin_invoked"
	TypePluginResult      Type = "plugin_result"
	TypePluginError       Type = "plugin_error"
	TypeAgentSpawned      Type = "agent_spawned"
	TypeAgentPartialChunk Type = "agent_partial_output"
	TypeAgentCompleted    Type = "agent_completed"
	TypeAgentError        Type = "agent_error"
)

// ErrorKind is the closed taxonomy of failure kinds every terminal error
// event carries. It is a
// string enum (not a Go error) so it serializes directly into event
// payloads; the underlying Go error detail, when one exists, is logged but
// never placed on the wire.
type ErrorKind string

const (
	ErrValidation           ErrorKind = "validation_error"
	ErrPermissionDenied     ErrorKind = "permission_denied"
	ErrCapabilityDenied     ErrorKind = "capability_denied"
	ErrPolicyDenied         ErrorKind = "policy_denied"
	ErrRateLimited          ErrorKind = "rate_limited"
	ErrTimeout              ErrorKind = "timeout"
	ErrCancelledCooperative ErrorKind = "cancelled_cooperatively"
	ErrCancelledForcibly    ErrorKind = "cancelled_forcibly"
	ErrSandboxFault         ErrorKind = "sandbox_fault"
	ErrExecutorPanic        ErrorKind = "executor_panic"
	ErrBackpressure         ErrorKind = "backpressure_exceeded"
	ErrSinkFailure          ErrorKind = "sink_failure"
	ErrInternal             ErrorKind = "internal"
)

// Event is the interface every SystemEvent variant implements. The
// orchestrator stamps Timestamp at mailbox entry; callers
// constructing events elsewhere leave it zero and let the mailbox fill it
// in.
type Event interface {
	// Type returns the variant tag, used by codecs and subscribers to
	// discriminate without a type switch when only the tag is needed.
	Type() Type
	// CorrelationID returns the id linking this event to the command that
	// produced it, or the zero Id if none applies.
	CorrelationID() id.Id
	// Stamp returns the kernel-assigned entry timestamp, zero until the
	// orchestrator has processed the event.
	Stamp() time.Time
	// WithStamp returns a copy of the event with its timestamp set. Used by
	// the orchestrator at mailbox entry, and by DecodeEnvelope to restore a
	// decoded event's timestamp.
	WithStamp(time.Time) Event
}

type base struct {
	correlation id.Id
	at          time.Time
}

func (b base) CorrelationID() id.Id { return b.correlation }
func (b base) Stamp() time.Time     { return b.at }

type (
	// TaskSubmitted is emitted when a caller submits work via submit_task.
	TaskSubmitted struct {
		base
		TaskID  id.Id
		Payload []byte
	}

	// TaskCompleted is the terminal success event for a task.
	TaskCompleted struct {
		base
		TaskID id.Id
		Result []byte
	}

	// TaskFailed is the terminal failure event for a task.
	TaskFailed struct {
		base
		TaskID  id.Id
		Kind    ErrorKind
		Message string
		// Stage is "pipeline" when the admission pipeline rejected the task
		// (the rejecting stage's name appears only inside Message), empty if
		// the failure originated in the executor instead.
		Stage string
	}

	// PluginLoaded is emitted once a manifest has been parsed and the
	// plugin's capabilities cached.
	PluginLoaded struct {
		base
		PluginID        id.Id
		ManifestDigest  string
	}

	// PluginInvoked is emitted when the orchestrator admits an invocation.
	PluginInvoked struct {
		base
		PluginID id.Id
		Input    []byte
	}

	// PluginResult is the terminal success event for a plugin invocation.
	PluginResult struct {
		base
		PluginID id.Id
		Output   []byte
	}

	// PluginError is the terminal failure event for a plugin invocation, or
	// a denied effect within an otherwise live invocation.
	PluginError struct {
		base
		PluginID id.Id
		Kind     ErrorKind
		Message  string
	}

	// AgentSpawned is emitted when spawn_agent admits a new agent.
	AgentSpawned struct {
		base
		AgentID id.Id
		Prompt  string
	}

	// AgentPartialOutput carries one chunk of a streaming agent's output.
	// Sequence is contiguous from 0 and strictly increasing per agent
	// per agent.
	AgentPartialOutput struct {
		base
		AgentID  id.Id
		Chunk    string
		Sequence uint64
	}

	// AgentCompleted is the terminal success event for an agent.
	AgentCompleted struct {
		base
		AgentID id.Id
		Result  string
	}

	// AgentError is the terminal failure event for an agent.
	AgentError struct {
		base
		AgentID id.Id
		Kind    ErrorKind
		Message string
	}
)

func (e TaskSubmitted) Type() Type  { return TypeTaskSubmitted }
func (e TaskCompleted) Type() Type  { return TypeTaskCompleted }
func (e TaskFailed) Type() Type     { return TypeTaskFailed }
func (e PluginLoaded) Type() Type   { return TypePluginLoaded }
func (e PluginInvoked) Type() Type  { return TypePluginInvoked }
func (e PluginResult) Type() Type   { return TypePluginResult }
func (e PluginError) Type() Type    { return TypePluginError }
func (e AgentSpawned) Type() Type   { return TypeAgentSpawned }
func (e AgentPartialOutput) Type() Type { return TypeAgentPartialChunk }
func (e AgentCompleted) Type() Type { return TypeAgentCompleted }
func (e AgentError) Type() Type     { return TypeAgentError }

func (e TaskSubmitted) WithStamp(t time.Time) Event  { e.at = t; return e }
func (e TaskCompleted) WithStamp(t time.Time) Event  { e.at = t; return e }
func (e TaskFailed) WithStamp(t time.Time) Event     { e.at = t; return e }
func (e PluginLoaded) WithStamp(t time.Time) Event   { e.at = t; return e }
func (e PluginInvoked) WithStamp(t time.Time) Event  { e.at = t; return e }
func (e PluginResult) WithStamp(t time.Time) Event   { e.at = t; return e }
func (e PluginError) WithStamp(t time.Time) Event    { e.at = t; return e }
func (e AgentSpawned) WithStamp(t time.Time) Event   { e.at = t; return e }
func (e AgentPartialOutput) WithStamp(t time.Time) Event { e.at = t; return e }
func (e AgentCompleted) WithStamp(t time.Time) Event { e.at = t; return e }
func (e AgentError) WithStamp(t time.Time) Event     { e.at = t; return e }

// NewTaskSubmitted constructs a TaskSubmitted event. correlation may be the
// zero Id.
func NewTaskSubmitted(taskID, correlation id.Id, payload []byte) TaskSubmitted {
	return TaskSubmitted{base: base{correlation: correlation}, TaskID: taskID, Payload: payload}
}

// NewTaskCompleted constructs a TaskCompleted event.
func NewTaskCompleted(taskID id.Id, result []byte) TaskCompleted {
	return TaskCompleted{TaskID: taskID, Result: result}
}

// NewTaskFailed constructs a TaskFailed event.
func NewTaskFailed(taskID id.Id, kind ErrorKind, message, stage string) TaskFailed {
	return TaskFailed{TaskID: taskID, Kind: kind, Message: message, Stage: stage}
}

// NewPluginLoaded constructs a PluginLoaded event.
func NewPluginLoaded(pluginID id.Id, manifestDigest string) PluginLoaded {
	return PluginLoaded{PluginID: pluginID, ManifestDigest: manifestDigest}
}

// NewPluginInvoked constructs a PluginInvoked event.
func NewPluginInvoked(pluginID, correlation id.Id, input []byte) PluginInvoked {
	return PluginInvoked{base: base{correlation: correlation}, PluginID: pluginID, Input: input}
}

// NewPluginResult constructs a PluginResult event.
func NewPluginResult(pluginID, correlation id.Id, output []byte) PluginResult {
	return PluginResult{base: base{correlation: correlation}, PluginID: pluginID, Output: output}
}

// NewPluginError constructs a PluginError event.
func NewPluginError(pluginID, correlation id.Id, kind ErrorKind, message string) PluginError {
	return PluginError{base: base{correlation: correlation}, PluginID: pluginID, Kind: kind, Message: message}
}

// NewAgentSpawned constructs an AgentSpawned event.
func NewAgentSpawned(agentID, correlation id.Id, prompt string) AgentSpawned {
	return AgentSpawned{base: base{correlation: correlation}, AgentID: agentID, Prompt: prompt}
}

// NewAgentPartialOutput constructs an AgentPartialOutput event.
func NewAgentPartialOutput(agentID id.Id, chunk string, sequence uint64) AgentPartialOutput {
	return AgentPartialOutput{AgentID: agentID, Chunk: chunk, Sequence: sequence}
}

// NewAgentCompleted constructs an AgentCompleted event.
func NewAgentCompleted(agentID id.Id, result string) AgentCompleted {
	return AgentCompleted{AgentID: agentID, Result: result}
}

// NewAgentError constructs an AgentError event.
func NewAgentError(agentID id.Id, kind ErrorKind, message string) AgentError {
	return AgentError{AgentID: agentID, Kind: kind, Message: message}
}
