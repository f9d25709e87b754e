// Package pluginhost loads plugin manifests, materializes their sandbox
// (Wasm or external process), and gates every invocation through the
// capability store before running it. The Loaded→Ready→Invoking→
// Ready/Failed→Unloaded state machine and the per-plugin status map are
// grounded on runtime/agent/engine/inmem/engine.go's run-status tracking;
// the trace-span-per-invocation style is grounded on
// runtime/toolregistry/executor/executor.go.
package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/telemetry"
)

// State is a plugin's position in its lifecycle state machine.
type State string

const (
	StateLoaded   State = "loaded"
	StateReady    State = "ready"
	StateInvoking State = "invoking"
	StateFailed   State = "failed"
	StateUnloaded State = "unloaded"
)

// ErrCircuitOpen is returned by Invoke when a plugin's circuit breaker is
// open and the cooldown window has not yet elapsed.
var ErrCircuitOpen = errors.New("pluginhost: circuit open")

// ErrCapabilityDenied is returned by Invoke when the capability store
// rejects the requested effect.
var ErrCapabilityDenied = errors.New("pluginhost: capability denied")

type pluginEntry struct {
	mu       sync.Mutex
	manifest Manifest
	sandbox  Sandbox
	state    State

	consecutiveFailures int
	circuitOpenedAt     time.Time
}

// Host owns every loaded plugin's sandbox and lifecycle state.
type Host struct {
	mu      sync.RWMutex
	plugins map[id.Id]*pluginEntry

	capabilities *capability.Store
	factory      map[Isolation]SandboxFactory

	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures a Host at construction.
type Option func(*Host)

// WithLogger sets the Host's logger. Nil uses a noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithTracer sets the Host's tracer. Nil uses a noop tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(h *Host) {
		if t != nil {
			h.tracer = t
		}
	}
}

// WithSandboxFactory registers the constructor used to materialize
// sandboxes for the given isolation mode, overriding the built-in
// external-process factory. No wasm factory is built in: IsolationWasm
// plugins load only once one is registered here.
func WithSandboxFactory(isolation Isolation, f SandboxFactory) Option {
	return func(h *Host) { h.factory[isolation] = f }
}

// New constructs a Host backed by capabilities for effect gating.
func New(capabilities *capability.Store, opts ...Option) *Host {
	h := &Host{
		plugins:      make(map[id.Id]*pluginEntry),
		capabilities: capabilities,
		factory:      make(map[Isolation]SandboxFactory),
		logger:       telemetry.NewNoopLogger(),
		tracer:       telemetry.NewNoopTracer(),
	}
	h.factory[IsolationExternalProcess] = func(ctx context.Context, m Manifest) (Sandbox, error) {
		return NewExternalProcessSandbox(ctx, m.EntryPoint)
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// Load materializes the manifest's sandbox and records the plugin as
// Ready. Every effect in manifest.Effects is granted to the capability
// store so Invoke's gate can pass.
func (h *Host) Load(ctx context.Context, m Manifest) error {
	factory, ok := h.factory[m.Isolation]
	if !ok {
		return fmt.Errorf("pluginhost: no sandbox factory for isolation %q", m.Isolation)
	}

	entry := &pluginEntry{manifest: m, state: StateLoaded}
	h.mu.Lock()
	h.plugins[m.ID] = entry
	h.mu.Unlock()

	sandbox, err := factory(ctx, m)
	if err != nil {
		entry.mu.Lock()
		entry.state = StateFailed
		entry.mu.Unlock()
		return fmt.Errorf("pluginhost: load plugin %s: %w", m.ID, err)
	}

	for _, grant := range m.Effects {
		grant.Plugin = m.ID
		if err := h.capabilities.Grant(grant); err != nil {
			return fmt.Errorf("pluginhost: grant effect %s for %s: %w", grant.Effect, m.ID, err)
		}
	}

	entry.mu.Lock()
	entry.sandbox = sandbox
	entry.state = StateReady
	entry.mu.Unlock()
	return nil
}

// Invoke exercises effect on plugin with request, gating the call through
// the capability store and the plugin's circuit breaker, and bounding it
// by the manifest's InvokeTimeout.
func (h *Host) Invoke(ctx context.Context, plugin id.Id, effect capability.Effect, request []byte) ([]byte, error) {
	h.mu.RLock()
	entry, ok := h.plugins[plugin]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pluginhost: unknown plugin %s", plugin)
	}

	entry.mu.Lock()
	if entry.state == StateFailed && time.Since(entry.circuitOpenedAt) < entry.manifest.circuitCooldown() {
		entry.mu.Unlock()
		return nil, ErrCircuitOpen
	}
	if entry.state != StateReady && entry.state != StateFailed {
		state := entry.state
		entry.mu.Unlock()
		return nil, fmt.Errorf("pluginhost: plugin %s not invocable in state %q", plugin, state)
	}
	entry.state = StateInvoking
	entry.mu.Unlock()

	decision := h.capabilities.Check(plugin, effect, string(request), request)
	if !decision.Allowed {
		h.recordFailure(entry)
		return nil, fmt.Errorf("%w: %s", ErrCapabilityDenied, decision.Reason)
	}

	ctx, span := h.tracer.Start(ctx, "pluginhost.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pluginhost.plugin", plugin.String()),
			attribute.String("pluginhost.effect", string(effect)),
		),
	)
	defer span.End()

	timeout := entry.manifest.invokeTimeout()
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := entry.sandbox.Invoke(invokeCtx, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin invocation failed")
		h.recordFailure(entry)
		return nil, fmt.Errorf("pluginhost: invoke %s: %w", plugin, err)
	}

	span.SetStatus(codes.Ok, "ok")
	entry.mu.Lock()
	entry.state = StateReady
	entry.consecutiveFailures = 0
	entry.mu.Unlock()
	return response, nil
}

// recordFailure increments the plugin's consecutive failure count and
// opens the circuit once the manifest's threshold is reached.
func (h *Host) recordFailure(entry *pluginEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.consecutiveFailures++
	if entry.consecutiveFailures >= entry.manifest.circuitThreshold() {
		entry.state = StateFailed
		entry.circuitOpenedAt = time.Now()
	} else {
		entry.state = StateReady
	}
}

// State returns the current lifecycle state of plugin, or StateUnloaded if
// it was never loaded or has since been unloaded.
func (h *Host) State(plugin id.Id) State {
	h.mu.RLock()
	entry, ok := h.plugins[plugin]
	h.mu.RUnlock()
	if !ok {
		return StateUnloaded
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state
}

// Unload closes the plugin's sandbox and removes it from the host.
func (h *Host) Unload(ctx context.Context, plugin id.Id) error {
	h.mu.Lock()
	entry, ok := h.plugins[plugin]
	delete(h.plugins, plugin)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("pluginhost: unknown plugin %s", plugin)
	}

	entry.mu.Lock()
	sandbox := entry.sandbox
	entry.state = StateUnloaded
	entry.mu.Unlock()

	if sandbox == nil {
		return nil
	}
	return sandbox.Close(ctx)
}
