package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/event"
	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pipeline"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
)

type cmdKind int

const (
	cmdSubmitTask cmdKind = iota
	cmdLoadPlugin
	cmdInvokePlugin
	cmdUnloadPlugin
	cmdSpawnAgent
	cmdCancelAgent
	cmdListPlugins
)

type cmdResult struct {
	id  id.Id
	err error

	plugins []PluginSummary
}

type command struct {
	kind  cmdKind
	reply chan cmdResult

	taskID      id.Id
	correlation id.Id
	payload     []byte

	manifest pluginhost.Manifest
	pluginID id.Id
	effect   capability.Effect

	agentID id.Id
	prompt  string

	deadline time.Time
}

// PluginSummary is the list_plugins projection of a loaded plugin.
type PluginSummary struct {
	ID      id.Id
	Name    string
	Version string
	State   pluginhost.State
	Effects []capability.Effect
}

// do sends cmd into the loop and blocks for its reply, honoring ctx and a
// concurrent shutdown. A full command queue fails fast with ErrBackpressure.
func (o *Orchestrator) do(ctx context.Context, cmd command) cmdResult {
	cmd.reply = make(chan cmdResult, 1)
	select {
	case o.commands <- cmd:
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	case <-o.closed:
		return cmdResult{err: ErrShutdown}
	default:
		return cmdResult{err: ErrBackpressure}
	}
	select {
	case res := <-cmd.reply:
		return res
	case <-ctx.Done():
		return cmdResult{err: ctx.Err()}
	case <-o.closed:
		return cmdResult{err: ErrShutdown}
	}
}

// SubmitTask admits payload as a new Task, returning its id immediately.
// Execution happens asynchronously once the Scheduler admits it; the
// result surfaces as a TaskCompleted or TaskFailed event.
func (o *Orchestrator) SubmitTask(ctx context.Context, payload []byte, correlation id.Id) (id.Id, error) {
	res := o.do(ctx, command{kind: cmdSubmitTask, taskID: id.New(id.KindTask), payload: payload, correlation: correlation})
	return res.id, res.err
}

// LoadPlugin parses manifest, grants its declared effects, and materializes
// its sandbox, returning the minted plugin id.
func (o *Orchestrator) LoadPlugin(ctx context.Context, manifest pluginhost.Manifest) (id.Id, error) {
	manifest.ID = id.New(id.KindPlugin)
	res := o.do(ctx, command{kind: cmdLoadPlugin, manifest: manifest})
	return res.id, res.err
}

// InvokeOption configures a single InvokePlugin call.
type InvokeOption func(*command)

// WithDeadline bounds the invocation's execution time. It can only shorten
// the call: the manifest's own InvokeTimeout still applies, and whichever
// ends first stops the call. A zero deadline (the default) leaves the
// manifest's timeout alone.
func WithDeadline(deadline time.Time) InvokeOption {
	return func(cmd *command) { cmd.deadline = deadline }
}

// InvokePlugin admits an invocation of plugin with input, returning a
// correlation id immediately. The result surfaces as a PluginResult or
// PluginError event carrying the same correlation id.
func (o *Orchestrator) InvokePlugin(ctx context.Context, plugin id.Id, effect capability.Effect, input []byte, opts ...InvokeOption) (id.Id, error) {
	correlation := id.New(id.KindCorrelation)
	cmd := command{kind: cmdInvokePlugin, pluginID: plugin, correlation: correlation, payload: input, effect: effect}
	for _, opt := range opts {
		opt(&cmd)
	}
	res := o.do(ctx, cmd)
	return res.id, res.err
}

// UnloadPlugin closes plugin's sandbox and removes it from the host.
func (o *Orchestrator) UnloadPlugin(ctx context.Context, plugin id.Id) error {
	res := o.do(ctx, command{kind: cmdUnloadPlugin, pluginID: plugin})
	return res.err
}

// ListPlugins returns a summary of every currently loaded plugin.
func (o *Orchestrator) ListPlugins(ctx context.Context) ([]PluginSummary, error) {
	res := o.do(ctx, command{kind: cmdListPlugins})
	return res.plugins, res.err
}

// SpawnAgent admits a new agent running prompt, returning its id
// immediately. Output streams back as AgentPartialOutput/AgentCompleted/
// AgentError events.
func (o *Orchestrator) SpawnAgent(ctx context.Context, prompt string) (id.Id, error) {
	agentID := id.New(id.KindAgent)
	res := o.do(ctx, command{kind: cmdSpawnAgent, agentID: agentID, prompt: prompt, taskID: agentID})
	return res.id, res.err
}

// CancelAgent requests cooperative cancellation of a running agent.
func (o *Orchestrator) CancelAgent(ctx context.Context, agent id.Id) error {
	res := o.do(ctx, command{kind: cmdCancelAgent, agentID: agent})
	return res.err
}

// handleCommand executes cmd inside the loop goroutine and replies.
func (o *Orchestrator) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSubmitTask:
		o.handleSubmitTask(ctx, cmd)
	case cmdLoadPlugin:
		o.handleLoadPlugin(ctx, cmd)
	case cmdInvokePlugin:
		o.handleInvokePlugin(ctx, cmd)
	case cmdUnloadPlugin:
		if _, loaded := o.loaded[cmd.pluginID]; !loaded {
			// Unloading an already-unloaded (or never-loaded) plugin is a
			// no-op success with no event append.
			cmd.reply <- cmdResult{id: cmd.pluginID}
			return
		}
		err := o.host.Unload(ctx, cmd.pluginID)
		if err == nil {
			delete(o.loaded, cmd.pluginID)
		}
		cmd.reply <- cmdResult{id: cmd.pluginID, err: err}
	case cmdListPlugins:
		cmd.reply <- cmdResult{plugins: o.listPlugins()}
	case cmdSpawnAgent:
		o.handleSpawnAgent(cmd)
	case cmdCancelAgent:
		o.agents.Cancel(cmd.agentID)
		cmd.reply <- cmdResult{id: cmd.agentID}
	}
}

func (o *Orchestrator) handleSubmitTask(ctx context.Context, cmd command) {
	req := pipeline.Request{ID: cmd.taskID, Subject: cmd.taskID, Kind: "task", Payload: cmd.payload}
	if err := o.pipe.Run(ctx, req); err != nil {
		if _, commitErr := o.commit(ctx, event.NewTaskFailed(cmd.taskID, event.ErrValidation, err.Error(), "pipeline")); commitErr != nil {
			o.logger.Error(ctx, "failed to log pipeline rejection", "err", commitErr)
		}
		cmd.reply <- cmdResult{id: cmd.taskID, err: err}
		return
	}

	if _, err := o.commit(ctx, event.NewTaskSubmitted(cmd.taskID, cmd.correlation, cmd.payload)); err != nil {
		cmd.reply <- cmdResult{id: cmd.taskID, err: err}
		return
	}

	o.pending[cmd.taskID] = pendingWork{kind: pendingTask, taskID: cmd.taskID, payload: cmd.payload}
	o.sched.Submit(schedulerTask(cmd.taskID))
	cmd.reply <- cmdResult{id: cmd.taskID}
}

func (o *Orchestrator) handleLoadPlugin(ctx context.Context, cmd command) {
	manifest := cmd.manifest
	if err := o.host.Load(ctx, manifest); err != nil {
		cmd.reply <- cmdResult{err: err}
		return
	}
	for _, grant := range manifest.Effects {
		if decision := o.caps.Check(manifest.ID, grant.Effect, "", nil); !decision.Allowed {
			for _, g := range manifest.Effects {
				o.caps.Revoke(manifest.ID, g.Effect)
			}
			_ = o.host.Unload(ctx, manifest.ID)
			cmd.reply <- cmdResult{err: fmt.Errorf("orchestrator: plugin %s not grantable under current policy: %s", manifest.ID, decision.Reason)}
			return
		}
	}
	if _, err := o.commit(ctx, event.NewPluginLoaded(manifest.ID, manifestDigest(manifest))); err != nil {
		cmd.reply <- cmdResult{err: err}
		return
	}
	o.loaded[manifest.ID] = manifest
	cmd.reply <- cmdResult{id: manifest.ID}
}

func (o *Orchestrator) handleInvokePlugin(_ context.Context, cmd command) {
	o.pending[cmd.correlation] = pendingWork{
		kind:        pendingPlugin,
		pluginID:    cmd.pluginID,
		effect:      cmd.effect,
		payload:     cmd.payload,
		correlation: cmd.correlation,
		deadline:    cmd.deadline,
	}
	o.sched.Submit(schedulerTask(cmd.correlation))
	cmd.reply <- cmdResult{id: cmd.correlation}
}

func (o *Orchestrator) handleSpawnAgent(cmd command) {
	o.pending[cmd.agentID] = pendingWork{
		kind:    pendingAgent,
		agentID: cmd.agentID,
		prompt:  cmd.prompt,
	}
	o.sched.Submit(schedulerTask(cmd.agentID))
	cmd.reply <- cmdResult{id: cmd.agentID}
}

func (o *Orchestrator) listPlugins() []PluginSummary {
	// PluginHost does not expose manifest enumeration directly (it is keyed
	// internally by id.Id with no iteration method); ListPlugins instead
	// reports from the orchestrator's own record of loaded plugins.
	out := make([]PluginSummary, 0, len(o.loaded))
	for _, m := range o.loaded {
		effects := make([]capability.Effect, len(m.Effects))
		for i, g := range m.Effects {
			effects[i] = g.Effect
		}
		out = append(out, PluginSummary{
			ID:      m.ID,
			Name:    m.Name,
			Version: m.Version,
			State:   o.host.State(m.ID),
			Effects: effects,
		})
	}
	return out
}
