package container

import (
	"sync"

	"github.com/agentkernel/core/internal/kernel/id"
)

// shardCount is fixed rather than configurable: the contract only requires
// that writers serialize per-shard and readers never block each other, not
// a specific fan-out. 16 shards is enough to remove lock contention for the
// kernel's expected concurrency (a handful of worker goroutines per run).
const shardCount = 16

// Pile is a concurrent keyed container mapping Id to T. Concurrent inserts
// and reads are permitted; a single key's update appears atomic to
// observers. Keys are unique; list_ids returns a point-in-time snapshot
// that does not pin the underlying structure.
//
// Pile shards its keyspace across independent RWMutex-guarded maps,
// generalizing the single-map, single-lock pattern in
// runtime/agent/hooks/bus.go to the throughput a sharded map allows for.
type Pile[T any] struct {
	shards [shardCount]shard[T]
}

type shard[T any] struct {
	mu    sync.RWMutex
	items map[id.Id]T
}

// NewPile constructs an empty Pile.
func NewPile[T any]() *Pile[T] {
	p := &Pile[T]{}
	for i := range p.shards {
		p.shards[i].items = make(map[id.Id]T)
	}
	return p
}

func (p *Pile[T]) shardFor(key id.Id) *shard[T] {
	return &p.shards[hashID(key)%shardCount]
}

// hashID derives a shard index from an Id without requiring T or Id to
// implement a hash interface; it hashes the Id's stable textual form.
func hashID(key id.Id) uint32 {
	s := key.String()
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Insert stores value under key, overwriting any existing entry.
func (p *Pile[T]) Insert(key id.Id, value T) {
	sh := p.shardFor(key)
	sh.mu.Lock()
	sh.items[key] = value
	sh.mu.Unlock()
}

// Get retrieves the value stored under key, if any.
func (p *Pile[T]) Get(key id.Id) (T, bool) {
	sh := p.shardFor(key)
	sh.mu.RLock()
	v, ok := sh.items[key]
	sh.mu.RUnlock()
	return v, ok
}

// Remove deletes key, reporting whether it was present.
func (p *Pile[T]) Remove(key id.Id) bool {
	sh := p.shardFor(key)
	sh.mu.Lock()
	_, ok := sh.items[key]
	delete(sh.items, key)
	sh.mu.Unlock()
	return ok
}

// Update atomically reads, mutates, and writes back the value under key.
// fn receives the current value (the zero value and ok=false if absent) and
// returns the new value to store. Update holds the shard's write lock for
// the duration of fn, so fn must not itself call back into the same Pile.
func (p *Pile[T]) Update(key id.Id, fn func(current T, ok bool) T) {
	sh := p.shardFor(key)
	sh.mu.Lock()
	current, ok := sh.items[key]
	sh.items[key] = fn(current, ok)
	sh.mu.Unlock()
}

// ListIDs returns a point-in-time snapshot of every key currently stored.
// The snapshot does not pin the underlying shards: subsequent inserts or
// removals are invisible to a slice already returned.
func (p *Pile[T]) ListIDs() []id.Id {
	var out []id.Id
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.RLock()
		for k := range sh.items {
			out = append(out, k)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the total number of entries across all shards.
func (p *Pile[T]) Len() int {
	n := 0
	for i := range p.shards {
		sh := &p.shards[i]
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
