package container_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/core/internal/kernel/container"
	"github.com/agentkernel/core/internal/kernel/id"
)

func TestPileInsertGetRemove(t *testing.T) {
	p := container.NewPile[string]()
	key := id.New(id.KindTask)

	_, ok := p.Get(key)
	assert.False(t, ok)

	p.Insert(key, "first")
	v, ok := p.Get(key)
	require.True(t, ok)
	assert.Equal(t, "first", v)

	p.Insert(key, "overwritten")
	v, ok = p.Get(key)
	require.True(t, ok)
	assert.Equal(t, "overwritten", v)

	assert.True(t, p.Remove(key))
	_, ok = p.Get(key)
	assert.False(t, ok)
	assert.False(t, p.Remove(key))
}

func TestPileListIDsSnapshot(t *testing.T) {
	p := container.NewPile[int]()
	a, b := id.New(id.KindAgent), id.New(id.KindAgent)
	p.Insert(a, 1)
	p.Insert(b, 2)

	snapshot := p.ListIDs()
	assert.Len(t, snapshot, 2)

	p.Insert(id.New(id.KindAgent), 3)
	assert.Len(t, snapshot, 2, "snapshot must not observe later inserts")
	assert.Equal(t, 3, p.Len())
}

func TestPileConcurrentAccess(t *testing.T) {
	p := container.NewPile[int]()
	var wg sync.WaitGroup
	ids := make([]id.Id, 200)
	for i := range ids {
		ids[i] = id.New(id.KindTask)
	}
	for i, key := range ids {
		wg.Add(1)
		go func(i int, key id.Id) {
			defer wg.Done()
			p.Insert(key, i)
		}(i, key)
	}
	wg.Wait()
	assert.Equal(t, len(ids), p.Len())
}

func TestPileUpdateAtomicity(t *testing.T) {
	p := container.NewPile[int]()
	key := id.New(id.KindTask)
	p.Insert(key, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Update(key, func(current int, ok bool) int { return current + 1 })
		}()
	}
	wg.Wait()

	v, _ := p.Get(key)
	assert.Equal(t, 100, v)
}
