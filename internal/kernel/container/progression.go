package container

import (
	"sync"

	"github.com/agentkernel/core/internal/kernel/id"
)

// Progression is an append-only ordered sequence of Ids, used to model the
// chronological order of steps in a workflow. Insertion order is
// load-bearing: a reader that observes PrefixUpto(k) and later
// PrefixUpto(k+m) sees the first k ids unchanged.
type Progression struct {
	mu  sync.RWMutex
	ids []id.Id
}

// NewProgression constructs an empty Progression.
func NewProgression() *Progression {
	return &Progression{}
}

// Push appends ident to the end of the sequence.
func (p *Progression) Push(ident id.Id) {
	p.mu.Lock()
	p.ids = append(p.ids, ident)
	p.mu.Unlock()
}

// PrefixUpto returns a copy of the first n ids, or the whole sequence if n
// exceeds its current length. The returned slice is a copy: callers may
// retain it across further Push calls without risk of aliasing growth.
func (p *Progression) PrefixUpto(n int) []id.Id {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n > len(p.ids) {
		n = len(p.ids)
	}
	out := make([]id.Id, n)
	copy(out, p.ids[:n])
	return out
}

// Len returns the current sequence length.
func (p *Progression) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}
