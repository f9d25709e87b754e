// Package eventlog provides the kernel's append-only, totally-ordered
// record of every processed event: a bounded in-memory ring buffer backing
// an optional durable sink, with deterministic replay into a projection.
// Grounded on the Pulse stream abstraction in
// features/stream/pulse/clients/pulse/client.go, adapted from a
// pub/sub-only client into the kernel's append/iterate/replay contract.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentkernel/core/internal/kernel/event"
)

// ErrBackpressure is returned by Append when the ring is full and no
// durable sink is configured to drain it — the kernel refuses new events
// rather than silently dropping history.
var ErrBackpressure = errors.New("eventlog: backpressure exceeded")

// Entry is one committed record: the event, its assigned sequence, and
// where it came from.
type Entry struct {
	Sequence  uint64
	Event     event.Event
	Origin    Origin
}

// Origin distinguishes events appended live by the orchestrator from events
// re-appended while replaying a durable sink into a fresh kernel.
type Origin string

const (
	OriginKernel Origin = "kernel"
	OriginReplay Origin = "replay"
)

// DurableSink persists encoded events synchronously before Append treats
// them as committed. Implementations include a Redis Streams sink (backed
// by goa.design/pulse/streaming) and a MongoDB sink; nil means the log is
// ephemeral and survives only the process.
type DurableSink interface {
	// Write durably persists entry before Append returns. An error here is
	// fatal to the kernel (ErrSinkFailure): the kernel refuses to proceed
	// rather than fork history.
	Write(ctx context.Context, entry Entry) error
	// ReadAll returns every durably persisted entry in sequence order, used
	// to rebuild the ring on restart before new commands are accepted.
	ReadAll(ctx context.Context) ([]Entry, error)
}

// Projection receives entries in order during Replay and updates caller
// state. Implementations must be deterministic: given the same entries in
// the same order, the resulting state must be byte-identical.
type Projection interface {
	Apply(entry Entry)
}

// ProjectionFunc adapts a plain function to the Projection interface.
type ProjectionFunc func(entry Entry)

// Apply implements Projection.
func (f ProjectionFunc) Apply(entry Entry) { f(entry) }

// Log is the kernel's event log: a bounded ring buffer of Entry, optionally
// backed by a DurableSink. Append is called only from the orchestrator
// loop; all other methods are safe for concurrent readers.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []Entry
	nextSeq  uint64
	sink     DurableSink
}

// New constructs a Log with the given ring capacity. capacity must be
// positive; a typical value sizes to one run's worth of events. sink may be
// nil for an ephemeral, process-local log.
func New(capacity int, sink DurableSink) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{capacity: capacity, sink: sink}
}

// Append assigns the next strictly monotonic sequence number to evt,
// durably persists it (if a sink is configured), and stores it in the ring.
// It is the orchestrator's sole write path into the log.
func (l *Log) Append(ctx context.Context, evt event.Event) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.nextSeq
	entry := Entry{Sequence: seq, Event: evt, Origin: OriginKernel}

	if l.sink != nil {
		if err := l.sink.Write(ctx, entry); err != nil {
			return 0, fmt.Errorf("eventlog: durable sink write: %w", err)
		}
	} else if len(l.entries) >= l.capacity {
		// No sink to flush the oldest entry to: refuse rather than evict
		// history we cannot recover.
		return 0, ErrBackpressure
	}

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	l.nextSeq++
	return seq, nil
}

// IterFrom returns every ring entry with Sequence >= from, in order. When a
// durable sink is configured and the requested sequence has already been
// evicted from the ring, callers should use Restore to rebuild state from
// the sink instead; IterFrom only ever serves what the in-memory ring still
// holds.
func (l *Log) IterFrom(from uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Sequence >= from {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries currently held in the ring.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// NextSequence returns the sequence number Append will assign next.
func (l *Log) NextSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq
}

// Replay applies every entry currently held by the log, in sequence order,
// to proj. Replay is read-only with respect to the log and deterministic:
// replaying the same entries twice into two fresh projections yields
// identical state.
func (l *Log) Replay(proj Projection) {
	l.mu.RLock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.RUnlock()

	for _, e := range entries {
		proj.Apply(e)
	}
}

// Restore rebuilds the log's ring and sequence counter from the durable
// sink, tagging every recovered entry's Origin as OriginReplay, then
// applies them to proj. This is the restart path: restart reads the
// durable sink and replays it into kernel state before accepting new
// commands. Restore requires a configured sink.
func Restore(ctx context.Context, sink DurableSink, capacity int, proj Projection) (*Log, error) {
	if sink == nil {
		return nil, errors.New("eventlog: restore requires a durable sink")
	}
	all, err := sink.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read durable sink: %w", err)
	}
	l := New(capacity, sink)
	l.entries = make([]Entry, 0, len(all))
	var maxSeq uint64
	for _, e := range all {
		e.Origin = OriginReplay
		l.entries = append(l.entries, e)
		if proj != nil {
			proj.Apply(e)
		}
		if e.Sequence >= maxSeq {
			maxSeq = e.Sequence + 1
		}
	}
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	l.nextSeq = maxSeq
	return l, nil
}
