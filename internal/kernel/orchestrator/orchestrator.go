// Package orchestrator implements the kernel's single-writer event loop:
// one goroutine drains a mailbox of SystemEvents and a
// channel of external commands, and is the sole mutator of the EventLog,
// Scheduler queue, AgentRegistry, and CapabilityStore. Parallel worker
// goroutines — plugin invocations, agent streams, task executors — report
// their outcome back as mailbox events; they never touch kernel state
// directly. Grounded on the goroutine-owns-state-plus-channel-reported-
// completions shape of runtime/agent/engine/inmem/engine.go, generalized
// from per-run goroutines into one perpetual loop.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentkernel/core/internal/kernel/agentregistry"
	"github.com/agentkernel/core/internal/kernel/broadcast"
	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/container"
	"github.com/agentkernel/core/internal/kernel/event"
	"github.com/agentkernel/core/internal/kernel/eventlog"
	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pipeline"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
	"github.com/agentkernel/core/internal/kernel/scheduler"
	"github.com/agentkernel/core/internal/kernel/telemetry"
)

// ErrBackpressure is returned by an external command when the command
// queue is full: the kernel rejects new work outright rather than blocking or
// silently dropping it.
var ErrBackpressure = errors.New("orchestrator: mailbox backpressure exceeded")

// ErrShutdown is returned by an external command submitted after the
// orchestrator's loop has exited.
var ErrShutdown = errors.New("orchestrator: kernel is shut down")

// TaskExecutor runs a caller-defined unit of work for a submitted Task
// payload once the Scheduler admits it. The kernel ships a trivial default
// (prefixing payload with "Processed: ") because submit_task is
// deliberately generic — a caller that wants submit_task to drive its own
// business logic installs one via WithTaskExecutor; a caller that only
// needs plugin/agent execution can ignore it.
type TaskExecutor func(ctx context.Context, taskID id.Id, payload []byte) ([]byte, error)

func defaultTaskExecutor(_ context.Context, _ id.Id, payload []byte) ([]byte, error) {
	return append([]byte("Processed: "), payload...), nil
}

// pendingKind distinguishes what an admitted scheduler.Task actually runs.
type pendingKind int

const (
	pendingTask pendingKind = iota
	pendingPlugin
	pendingAgent
)

type pendingWork struct {
	kind    pendingKind
	taskID  id.Id
	payload []byte

	pluginID id.Id
	effect   capability.Effect

	agentID     id.Id
	prompt      string
	correlation id.Id

	deadline time.Time
}

// Orchestrator is the kernel. Construct with New, then run its loop with
// Run from a single long-lived goroutine; every other method is safe to
// call concurrently from any number of caller goroutines.
type Orchestrator struct {
	mailbox  chan event.Event
	commands chan command

	log    *eventlog.Log
	bus    *broadcast.Bus // structured SystemEvents — subscribe_events
	lines  *broadcast.Bus // rendered status lines — subscribe_broadcast (C4)
	pipe   *pipeline.Pipeline
	sched  *scheduler.Scheduler
	host   *pluginhost.Host
	agents *agentregistry.Registry
	caps   *capability.Store
	data   *container.Pile[[]byte]

	taskExecutor TaskExecutor
	logger       telemetry.Logger
	tracer       telemetry.Tracer

	pending map[id.Id]pendingWork
	loaded  map[id.Id]pluginhost.Manifest

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithTaskExecutor overrides the default echo TaskExecutor.
func WithTaskExecutor(fn TaskExecutor) Option {
	return func(o *Orchestrator) { o.taskExecutor = fn }
}

// WithLogger sets the Orchestrator's logger. Nil uses a noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Orchestrator) {
		if l == nil {
			l = telemetry.NewNoopLogger()
		}
		o.logger = l
	}
}

// WithTracer sets the Orchestrator's tracer. Nil uses a noop tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(o *Orchestrator) {
		if t == nil {
			t = telemetry.NewNoopTracer()
		}
		o.tracer = t
	}
}

// WithMailboxCapacity sets the bounded mailbox's capacity. Zero or
// negative uses a capacity of 256.
func WithMailboxCapacity(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.mailbox = make(chan event.Event, n)
		}
	}
}

// WithCommandQueueCapacity sets the bounded external command channel's
// capacity. Zero or negative uses a capacity of 64.
func WithCommandQueueCapacity(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.commands = make(chan command, n)
		}
	}
}

// WithBroadcast installs lines as the destination for the kernel's
// subscribe_broadcast stream: one rendered status line (event.Line) per
// committed SystemEvent, distinct from the structured event stream bus
// carries. Without this option, lines are rendered and published into an
// unsubscribed internal Bus — a safe no-op for callers that only care about
// subscribe_events.
func WithBroadcast(lines *broadcast.Bus) Option {
	return func(o *Orchestrator) {
		if lines != nil {
			o.lines = lines
		}
	}
}

// New wires an Orchestrator around its component dependencies. log, bus,
// pipe, sched, host, agents, and caps must be non-nil; agents must have
// been constructed with a Sink that forwards to this Orchestrator's
// mailbox (see NewAgentSink).
func New(log *eventlog.Log, bus *broadcast.Bus, pipe *pipeline.Pipeline, sched *scheduler.Scheduler, host *pluginhost.Host, agents *agentregistry.Registry, caps *capability.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		mailbox:      make(chan event.Event, 256),
		commands:     make(chan command, 64),
		log:          log,
		bus:          bus,
		lines:        broadcast.New(),
		pipe:         pipe,
		sched:        sched,
		host:         host,
		agents:       agents,
		caps:         caps,
		data:         container.NewPile[[]byte](),
		taskExecutor: defaultTaskExecutor,
		logger:       telemetry.NewNoopLogger(),
		tracer:       telemetry.NewNoopTracer(),
		pending:      make(map[id.Id]pendingWork),
		loaded:       make(map[id.Id]pluginhost.Manifest),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// NewAgentSink returns the agentregistry.Sink an AgentRegistry passed to
// New must be constructed with, so every agent event it produces re-enters
// this Orchestrator's single-writer loop instead of being observed
// out-of-band.
func NewAgentSink(o *Orchestrator) agentregistry.Sink {
	return func(evt event.Event) {
		select {
		case o.mailbox <- evt:
		case <-o.closed:
		}
	}
}

// Data returns the kernel's shared cross-task Pile, available to any
// caller — executors, plugins, callers wiring up a TaskExecutor —
// independent of the orchestrator's own single-writer state.
func (o *Orchestrator) Data() *container.Pile[[]byte] { return o.data }

// Run drains the mailbox and command channel until ctx is cancelled,
// dispatching each according to the loop's dispatch rules. It returns the
// error that stopped it: a cancelled ctx yields a clean shutdown (nil), a
// durable sink failure is fatal and returned as-is.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.closeOnce.Do(func() { close(o.closed) })

	for {
		select {
		case <-ctx.Done():
			o.logger.Info(ctx, "orchestrator shutting down", "reason", ctx.Err())
			return nil
		case evt := <-o.mailbox:
			if err := o.handleEvent(ctx, evt); err != nil {
				return err
			}
		case cmd := <-o.commands:
			o.handleCommand(ctx, cmd)
		}
		o.drainAdmissions(ctx)
	}
}

// sendEvent delivers evt to the mailbox from a worker goroutine, honoring
// shutdown so a worker finishing after Run has exited does not block
// forever.
func (o *Orchestrator) sendEvent(evt event.Event) {
	select {
	case o.mailbox <- evt:
	case <-o.closed:
	}
}

// handleEvent commits evt to the log and broadcast bus, then applies the
// type-specific bookkeeping: releasing the admitted unit's concurrency
// slot and observing the rate limiter on terminal events.
func (o *Orchestrator) handleEvent(ctx context.Context, evt event.Event) error {
	stamped, err := o.commit(ctx, evt)
	if err != nil {
		o.logger.Error(ctx, "event log append failed, refusing to proceed", "err", err)
		return fmt.Errorf("orchestrator: %w", err)
	}

	switch e := stamped.(type) {
	case event.TaskCompleted:
		o.release(e.TaskID)
	case event.TaskFailed:
		o.release(e.TaskID)
	case event.PluginResult:
		o.release(e.CorrelationID())
		o.observeRateLimit(false)
	case event.PluginError:
		o.release(e.CorrelationID())
		o.observeRateLimit(e.Kind == event.ErrRateLimited)
	case event.AgentCompleted:
		o.release(e.AgentID)
	case event.AgentError:
		o.release(e.AgentID)
		o.observeRateLimit(e.Kind == event.ErrRateLimited)
	case event.PluginInvoked, event.AgentSpawned:
		// Already logged and broadcast above; no further bookkeeping. These
		// variants normally arrive via commit calls the loop makes itself at
		// admission time (drainAdmissions), not from this branch.
	}
	return nil
}

// commit stamps, appends, and broadcasts evt — the one path every event
// takes into durable history, whether it arrived via the mailbox or was
// synthesized by the loop at admission time.
func (o *Orchestrator) commit(ctx context.Context, evt event.Event) (event.Event, error) {
	stamped := evt.WithStamp(time.Now())
	if _, err := o.log.Append(ctx, stamped); err != nil {
		return stamped, err
	}
	o.bus.Publish(stamped)
	o.lines.Publish(event.Line(stamped))
	return stamped, nil
}

func (o *Orchestrator) release(key id.Id) {
	if _, ok := o.pending[key]; !ok {
		return
	}
	delete(o.pending, key)
	o.sched.Release()
}

func (o *Orchestrator) observeRateLimit(limited bool) {
	if l := o.sched.Limiter(); l != nil {
		l.Observe(limited)
	}
}

// drainAdmissions admits every task the Scheduler currently allows and
// dispatches each to its executor, stopping at the first refusal (empty
// queue, ceiling saturated, or rate limiter exhausted).
func (o *Orchestrator) drainAdmissions(ctx context.Context) {
	for {
		task, advisor, ok := o.sched.Admit(ctx)
		if !ok {
			return
		}
		if advisor != nil {
			o.logger.Info(ctx, "scheduler advisor permutation applied",
				"input", idsToStrings(advisor.InputIDs),
				"permutation", idsToStrings(advisor.Permutation))
		}

		pw, ok := o.pending[task.ID]
		if !ok {
			// Admitted a task id we have no record of; release its slot and
			// move on rather than leaking a permanently in-flight slot.
			o.sched.Release()
			continue
		}
		o.dispatch(ctx, pw)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, pw pendingWork) {
	switch pw.kind {
	case pendingTask:
		go o.runTask(ctx, pw)
	case pendingPlugin:
		if _, err := o.commit(ctx, event.NewPluginInvoked(pw.pluginID, pw.correlation, pw.payload)); err != nil {
			o.logger.Error(ctx, "failed to log plugin invocation", "err", err)
		}
		go o.runPlugin(ctx, pw)
	case pendingAgent:
		go o.runAgent(ctx, pw)
	}
}

func (o *Orchestrator) runTask(ctx context.Context, pw pendingWork) {
	defer o.recoverPanic(ctx, func(msg string) {
		o.sendEvent(event.NewTaskFailed(pw.taskID, event.ErrExecutorPanic, msg, ""))
	})
	result, err := o.taskExecutor(ctx, pw.taskID, pw.payload)
	if err != nil {
		o.sendEvent(event.NewTaskFailed(pw.taskID, event.ErrInternal, err.Error(), ""))
		return
	}
	o.sendEvent(event.NewTaskCompleted(pw.taskID, result))
}

func (o *Orchestrator) runPlugin(ctx context.Context, pw pendingWork) {
	defer o.recoverPanic(ctx, func(msg string) {
		o.sendEvent(event.NewPluginError(pw.pluginID, pw.correlation, event.ErrExecutorPanic, msg))
	})
	if !pw.deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, pw.deadline)
		defer cancel()
	}
	resp, err := o.host.Invoke(ctx, pw.pluginID, pw.effect, pw.payload)
	if err != nil {
		o.sendEvent(event.NewPluginError(pw.pluginID, pw.correlation, classifyPluginErr(err), err.Error()))
		return
	}
	o.sendEvent(event.NewPluginResult(pw.pluginID, pw.correlation, resp))
}

func (o *Orchestrator) runAgent(ctx context.Context, pw pendingWork) {
	// agentregistry.Registry.Spawn already emits AgentSpawned/AgentError
	// through the sink wired by NewAgentSink; the panic boundary here only
	// guards the Spawn call itself, since the registry owns its own pump
	// goroutine's recovery.
	defer o.recoverPanic(ctx, func(msg string) {
		o.sendEvent(event.NewAgentError(pw.agentID, event.ErrExecutorPanic, msg))
	})
	if err := o.agents.Spawn(ctx, pw.agentID, pw.correlation, agentregistry.Request{Prompt: pw.prompt}); err != nil {
		// Spawn already emitted AgentError on failure; nothing further to do.
		return
	}
}

func (o *Orchestrator) recoverPanic(ctx context.Context, onPanic func(msg string)) {
	if r := recover(); r != nil {
		o.logger.Error(ctx, "executor panic recovered", "panic", r)
		onPanic(fmt.Sprintf("%v", r))
	}
}

// classifyPluginErr maps a pluginhost.Host.Invoke error into the closed
// ErrorKind taxonomy.
func classifyPluginErr(err error) event.ErrorKind {
	switch {
	case errors.Is(err, pluginhost.ErrCircuitOpen):
		return event.ErrSandboxFault
	case errors.Is(err, pluginhost.ErrCapabilityDenied):
		return event.ErrCapabilityDenied
	case errors.Is(err, context.DeadlineExceeded):
		return event.ErrTimeout
	case errors.Is(err, context.Canceled):
		return event.ErrCancelledCooperative
	default:
		return event.ErrSandboxFault
	}
}

func manifestDigest(m pluginhost.Manifest) string {
	type digestDoc struct {
		Name    string
		Version string
		Entry   string
	}
	raw, _ := json.Marshal(digestDoc{Name: m.Name, Version: m.Version, Entry: m.EntryPoint})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// schedulerTask wraps key as a default-cost, default-priority
// scheduler.Task: the orchestrator keys admission purely by id, using its
// own pending map for everything the Scheduler does not need to know.
func schedulerTask(key id.Id) scheduler.Task {
	return scheduler.Task{ID: key}
}

func idsToStrings(ids []id.Id) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}
