package manifeststore

import (
	"context"
	"sync"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
)

// MemoryStore is an in-memory implementation of Store, suitable for
// development, testing, and single-node deployments where persistence
// across restarts is not required.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[id.Id]pluginhost.Manifest
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{manifests: make(map[id.Id]pluginhost.Manifest)}
}

// SaveManifest stores or updates a manifest.
func (s *MemoryStore) SaveManifest(ctx context.Context, manifest pluginhost.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[manifest.ID] = manifest
	return nil
}

// GetManifest retrieves a manifest by ID.
func (s *MemoryStore) GetManifest(ctx context.Context, pluginID id.Id) (pluginhost.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return pluginhost.Manifest{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[pluginID]
	if !ok {
		return pluginhost.Manifest{}, ErrNotFound
	}
	return m, nil
}

// DeleteManifest removes a manifest by ID.
func (s *MemoryStore) DeleteManifest(ctx context.Context, pluginID id.Id) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[pluginID]; !ok {
		return ErrNotFound
	}
	delete(s.manifests, pluginID)
	return nil
}

// ListManifests returns every known manifest, optionally filtered to a
// single isolation kind.
func (s *MemoryStore) ListManifests(ctx context.Context, isolation pluginhost.Isolation) ([]pluginhost.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pluginhost.Manifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		if isolation == "" || m.Isolation == isolation {
			out = append(out, m)
		}
	}
	return out, nil
}
