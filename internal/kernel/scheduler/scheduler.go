// Package scheduler admits tasks to execution under a bounded concurrency
// ceiling, enforcing that the count of in-flight plugin invocations plus
// running agent steps never exceeds the configured limit.
// Ordering is pluggable — FIFO, Priority, or an optional AdvisorHook
// permutation — but admission limits always apply on top of whatever order
// the policy produces. Grounded on the AIMD admission shape of
// features/model/middleware/ratelimit.go's AdaptiveRateLimiter, adapted
// from a per-model-request token budget to a per-task admission slot
// budget via internal/kernel/ratelimit.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/ratelimit"
)

// Policy selects how the scheduler orders its pending queue.
type Policy int

const (
	// PolicyFIFO admits tasks in submission order. The default.
	PolicyFIFO Policy = iota
	// PolicyPriority admits the highest-Priority task first, ties broken
	// by submission order.
	PolicyPriority
)

// Task is one unit of admission work: a plugin invocation or agent step
// waiting for a concurrency slot.
type Task struct {
	ID       id.Id
	Priority int
	// Cost is the admission-rate-limiter cost this task consumes once
	// admitted; callers that do not rate-limit leave it at zero and the
	// scheduler treats it as 1.
	Cost int

	seq       uint64
	submitted time.Time
}

// AdvisorHook receives the current pending set (already policy-ordered) and
// returns a permutation of it. The scheduler treats the result as a
// suggestion: it still applies admission limits on top, and repairs a
// permutation that does not contain exactly the same task IDs it was
// given (see repairPermutation) instead of using it as-is.
type AdvisorHook func(pending []Task) []Task

// AdvisorRecord captures one AdvisorHook invocation for the event log:
// input summary (IDs considered) and the permutation it produced.
type AdvisorRecord struct {
	InputIDs    []id.Id
	Permutation []id.Id
}

// Scheduler holds the pending queue and in-flight count. Safe for
// concurrent use, though in practice it is called only from the
// orchestrator's single-writer loop.
type Scheduler struct {
	mu sync.Mutex

	policy  Policy
	ceiling int

	queue    []Task
	inFlight int
	nextSeq  uint64

	advisor AdvisorHook
	limiter *ratelimit.AdaptiveLimiter
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithAdvisor installs an AdvisorHook consulted on every Admit call.
func WithAdvisor(hook AdvisorHook) Option {
	return func(s *Scheduler) { s.advisor = hook }
}

// WithRateLimiter gates admission additionally on limiter, consuming
// Task.Cost units per admitted task (minimum 1). Without this option the
// scheduler only enforces the concurrency ceiling.
func WithRateLimiter(limiter *ratelimit.AdaptiveLimiter) Option {
	return func(s *Scheduler) { s.limiter = limiter }
}

// New constructs a Scheduler admitting under policy with at most ceiling
// tasks in flight at once.
func New(policy Policy, ceiling int, opts ...Option) *Scheduler {
	s := &Scheduler{policy: policy, ceiling: ceiling}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit enqueues task, stamping it with a submission sequence used as the
// Priority-policy tiebreaker.
func (s *Scheduler) Submit(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.seq = s.nextSeq
	task.submitted = time.Now()
	s.nextSeq++
	s.queue = append(s.queue, task)
}

// Admit attempts to admit the next eligible task. It returns ok=false
// without side effects when the queue is empty, the concurrency ceiling is
// already saturated, or the rate limiter (if configured) has no budget for
// the head task's cost. record is non-nil only when an AdvisorHook ran.
func (s *Scheduler) Admit(ctx context.Context) (task Task, record *AdvisorRecord, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || s.inFlight >= s.ceiling {
		return Task{}, nil, false
	}

	ordered := s.ordered()
	if s.advisor != nil {
		permuted := s.advisor(ordered)
		repaired, changed := repairPermutation(ordered, permuted)
		if changed {
			record = &AdvisorRecord{InputIDs: ids(ordered), Permutation: ids(repaired)}
		}
		ordered = repaired
	}

	head := ordered[0]
	cost := head.Cost
	if cost <= 0 {
		cost = 1
	}
	if s.limiter != nil && !s.limiter.Allow(cost) {
		return Task{}, nil, false
	}

	s.removeByID(head.ID)
	s.inFlight++
	return head, record, true
}

// Release frees one concurrency slot, called once an admitted task's
// executor reports a terminal event.
func (s *Scheduler) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
}

// Limiter returns the configured rate limiter, or nil if none was
// installed, so the orchestrator can report back RateLimited/success
// signals via Observe.
func (s *Scheduler) Limiter() *ratelimit.AdaptiveLimiter {
	return s.limiter
}

// Pending returns a policy-ordered snapshot of the queue, for
// introspection and tests.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ordered()
}

// InFlight reports the current number of admitted, not-yet-released tasks.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// ordered returns the queue sorted per policy. Callers must hold s.mu.
func (s *Scheduler) ordered() []Task {
	out := make([]Task, len(s.queue))
	copy(out, s.queue)
	switch s.policy {
	case PolicyPriority:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Priority != out[j].Priority {
				return out[i].Priority > out[j].Priority
			}
			return out[i].seq < out[j].seq
		})
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	}
	return out
}

// removeByID drops the task with id from the queue. Callers must hold s.mu.
func (s *Scheduler) removeByID(target id.Id) {
	for i, t := range s.queue {
		if t.ID == target {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func ids(tasks []Task) []id.Id {
	out := make([]id.Id, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// repairPermutation merges an AdvisorHook's suggested order against the
// actual pending set: entries in permuted that no longer reference a
// pending task (or repeat one already placed) are dropped as extraneous,
// and pending tasks the hook omitted are appended afterward in their
// original policy order — a partial repair rather than an all-or-nothing
// rejection. changed reports whether the repaired order differs from
// ordered, i.e. whether the advisor's input was actually altered.
func repairPermutation(ordered, permuted []Task) (repaired []Task, changed bool) {
	byID := make(map[id.Id]Task, len(ordered))
	for _, t := range ordered {
		byID[t.ID] = t
	}

	seen := make(map[id.Id]bool, len(permuted))
	repaired = make([]Task, 0, len(ordered))
	for _, t := range permuted {
		task, ok := byID[t.ID]
		if !ok || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		repaired = append(repaired, task)
	}
	for _, t := range ordered {
		if !seen[t.ID] {
			repaired = append(repaired, t)
		}
	}

	if len(repaired) != len(ordered) {
		return repaired, true
	}
	for i, t := range ordered {
		if t.ID != repaired[i].ID {
			return repaired, true
		}
	}
	return repaired, false
}
