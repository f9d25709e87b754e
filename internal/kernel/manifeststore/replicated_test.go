package manifeststore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
)

type fakeMap struct {
	mu      sync.RWMutex
	content map[string]string
}

func newFakeMap() *fakeMap {
	return &fakeMap{content: make(map[string]string)}
}

var _ Map = (*fakeMap)(nil)

func (m *fakeMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.content))
	for k := range m.content {
		out = append(out, k)
	}
	return out
}

func (m *fakeMap) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.content[key]
	return v, ok
}

func (m *fakeMap) Set(ctx context.Context, key, value string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.content[key]
	m.content[key] = value
	return prev, nil
}

func (m *fakeMap) Delete(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.content[key]
	delete(m.content, key)
	return prev, nil
}

func TestReplicatedStore_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewReplicatedStore(newFakeMap())

	m := pluginhost.Manifest{
		ID:        id.New(id.KindPlugin),
		Name:      "atlas_read",
		Version:   "2.1.0",
		Isolation: pluginhost.IsolationExternalProcess,
		Effects:   []capability.Grant{{Effect: "net.outbound"}},
	}

	require.NoError(t, s.SaveManifest(ctx, m))

	got, err := s.GetManifest(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, m.Version, got.Version)
	assert.Equal(t, m.Effects, got.Effects)

	require.NoError(t, s.DeleteManifest(ctx, m.ID))

	_, err = s.GetManifest(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplicatedStore_ListFiltersByIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewReplicatedStore(newFakeMap())

	wasm := pluginhost.Manifest{ID: id.New(id.KindPlugin), Name: "a", Isolation: pluginhost.IsolationWasm}
	proc := pluginhost.Manifest{ID: id.New(id.KindPlugin), Name: "b", Isolation: pluginhost.IsolationExternalProcess}
	require.NoError(t, s.SaveManifest(ctx, wasm))
	require.NoError(t, s.SaveManifest(ctx, proc))

	all, err := s.ListManifests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	procOnly, err := s.ListManifests(ctx, pluginhost.IsolationExternalProcess)
	require.NoError(t, err)
	require.Len(t, procOnly, 1)
	assert.Equal(t, "b", procOnly[0].Name)
}

func TestReplicatedStore_DeleteUnknownReturnsErrNotFound(t *testing.T) {
	s := NewReplicatedStore(newFakeMap())
	err := s.DeleteManifest(context.Background(), id.New(id.KindPlugin))
	assert.ErrorIs(t, err, ErrNotFound)
}
