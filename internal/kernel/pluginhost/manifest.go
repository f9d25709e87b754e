package pluginhost

import (
	"time"

	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/id"
)

// Isolation names how a plugin's code actually runs.
type Isolation string

const (
	// IsolationWasm runs the plugin as a Wasm module inside an
	// in-process runtime, through the sandbox factory registered for it
	// with WithSandboxFactory (typically wrapping NewWasmSandbox).
	IsolationWasm Isolation = "wasm"
	// IsolationExternalProcess runs the plugin as a separate OS process,
	// communicating over stdin/stdout with length-prefixed frames.
	IsolationExternalProcess Isolation = "external_process"
)

// Manifest describes one loadable plugin: its identity, how it is
// isolated, the effects it requests, and the operational limits the host
// enforces around every invocation.
type Manifest struct {
	ID         id.Id
	Name       string
	Version    string
	Isolation  Isolation
	EntryPoint string // wasm module path, or executable path for external_process
	Effects    []capability.Grant

	// InvokeTimeout bounds a single Invoke call; zero uses DefaultInvokeTimeout.
	InvokeTimeout time.Duration
	// CircuitThreshold is how many consecutive capability denials or
	// sandbox faults open the circuit breaker; zero uses
	// DefaultCircuitThreshold.
	CircuitThreshold int
	// CircuitCooldown is how long an open circuit stays open before the
	// next invocation attempt is allowed through as a probe; zero uses
	// DefaultCircuitCooldown.
	CircuitCooldown time.Duration
}

// DefaultInvokeTimeout bounds a plugin invocation when a manifest does not
// specify one.
const DefaultInvokeTimeout = 30 * time.Second

// DefaultCircuitThreshold is the number of consecutive failures that trips
// the breaker when a manifest does not specify one.
const DefaultCircuitThreshold = 5

// DefaultCircuitCooldown is how long the breaker stays open before
// allowing a probe invocation when a manifest does not specify one.
const DefaultCircuitCooldown = 10 * time.Second

func (m Manifest) invokeTimeout() time.Duration {
	if m.InvokeTimeout <= 0 {
		return DefaultInvokeTimeout
	}
	return m.InvokeTimeout
}

func (m Manifest) circuitThreshold() int {
	if m.CircuitThreshold <= 0 {
		return DefaultCircuitThreshold
	}
	return m.CircuitThreshold
}

func (m Manifest) circuitCooldown() time.Duration {
	if m.CircuitCooldown <= 0 {
		return DefaultCircuitCooldown
	}
	return m.CircuitCooldown
}
