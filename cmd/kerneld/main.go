// Command kerneld boots the kernel with its default in-memory wiring,
// submits one task and spawns one agent through it, and prints the events
// it emits.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/agentkernel/core/internal/kernel/agentregistry"
	"github.com/agentkernel/core/internal/kernel/broadcast"
	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/config"
	"github.com/agentkernel/core/internal/kernel/event"
	"github.com/agentkernel/core/internal/kernel/eventlog"
	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/orchestrator"
	"github.com/agentkernel/core/internal/kernel/pipeline"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
	"github.com/agentkernel/core/internal/kernel/scheduler"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("kerneld: load config: %v", err)
	}

	log.Printf("kerneld: mailbox=%d commands=%d scheduler=%s/%d",
		cfg.MailboxCapacity, cfg.CommandQueueCapacity, cfg.SchedulerPolicy, cfg.SchedulerCeiling)

	evlog := eventlog.New(cfg.EventLogCapacity, nil)
	bus := broadcast.New()
	lines := broadcast.New()
	caps := capability.New()

	pipe := pipeline.New()
	pipe.Use("permission", pipeline.NewPermissionStage(caps))
	pipe.Use("ratelimit", pipeline.NewRateLimitStage(cfg.RateLimitRPS, cfg.RateLimitBurst))

	policy := scheduler.PolicyFIFO
	if cfg.SchedulerPolicy == "priority" {
		policy = scheduler.PolicyPriority
	}
	sched := scheduler.New(policy, cfg.SchedulerCeiling)

	host := pluginhost.New(caps)

	var orch *orchestrator.Orchestrator
	agents := agentregistry.New(stubModelClient{}, func(evt event.Event) {
		orchestrator.NewAgentSink(orch)(evt)
	})
	orch = orchestrator.New(evlog, bus, pipe, sched, host, agents, caps,
		orchestrator.WithMailboxCapacity(cfg.MailboxCapacity),
		orchestrator.WithCommandQueueCapacity(cfg.CommandQueueCapacity),
		orchestrator.WithBroadcast(lines))

	// bus carries the structured SystemEvent stream (subscribe_events); a
	// real deployment's dashboard would subscribe there for typed handling.
	// kerneld's own console output instead follows lines, the rendered
	// human-readable status stream (subscribe_broadcast).
	linesSub := lines.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	go func() {
		for v := range linesSub.C() {
			if line, ok := v.(string); ok {
				log.Printf("kerneld: %s", line)
			}
		}
	}()

	taskID, err := orch.SubmitTask(ctx, []byte("hello kernel"), id.New(id.KindCorrelation))
	if err != nil {
		log.Fatalf("kerneld: submit task: %v", err)
	}
	fmt.Println("submitted task:", taskID)

	agentID, err := orch.SpawnAgent(ctx, "say hi")
	if err != nil {
		log.Fatalf("kerneld: spawn agent: %v", err)
	}
	fmt.Println("spawned agent:", agentID)

	time.Sleep(500 * time.Millisecond)
	cancel()

	if err := <-runErr; err != nil {
		log.Fatalf("kerneld: orchestrator exited with error: %v", err)
	}
}

// stubModelClient is a zero-dependency Client so kerneld runs without an
// Anthropic API key configured; swap in
// agentregistry.NewAnthropicClient(msg, model) for a real deployment.
type stubModelClient struct{}

func (stubModelClient) Stream(context.Context, agentregistry.Request) (agentregistry.Streamer, error) {
	return &stubStreamer{chunks: []agentregistry.Chunk{{Text: "hello from kerneld"}, {Done: true}}}, nil
}

type stubStreamer struct {
	chunks []agentregistry.Chunk
	idx    int
}

func (s *stubStreamer) Recv() (agentregistry.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return agentregistry.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *stubStreamer) Close() error { return nil }
