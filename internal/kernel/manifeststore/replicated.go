package manifeststore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
)

// Map is the minimal replicated-map contract ReplicatedStore requires.
//
// Map is satisfied by *rmap.Map from goa.design/pulse/rmap. It is defined
// here to keep the store unit-testable without Redis and to avoid coupling
// callers to a concrete Pulse implementation.
//
// Implementations must be safe for concurrent use.
type Map interface {
	Delete(ctx context.Context, key string) (string, error)
	Get(key string) (string, bool)
	Keys() []string
	Set(ctx context.Context, key, value string) (string, error)
}

// ReplicatedStore persists manifests in a replicated map, backed by Redis
// through goa.design/pulse/rmap. This makes manifest registrations durable
// across kernel process restarts and, when multiple kernel nodes share the
// same Redis instance, visible to every node. It is safe for concurrent use
// when backed by a concurrent-safe Map.
type ReplicatedStore struct {
	m Map
}

const manifestKeyPrefix = "kernel:manifest:"

// NewReplicatedStore creates a new replicated store backed by m.
func NewReplicatedStore(m Map) *ReplicatedStore {
	return &ReplicatedStore{m: m}
}

var _ Store = (*ReplicatedStore)(nil)

// SaveManifest stores or updates a manifest.
func (s *ReplicatedStore) SaveManifest(ctx context.Context, manifest pluginhost.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("manifeststore: marshal manifest %s: %w", manifest.ID, err)
	}
	if _, err := s.m.Set(ctx, manifestKey(manifest.ID), string(b)); err != nil {
		return fmt.Errorf("manifeststore: store manifest %s: %w", manifest.ID, err)
	}
	return nil
}

// GetManifest retrieves a manifest by ID.
func (s *ReplicatedStore) GetManifest(ctx context.Context, pluginID id.Id) (pluginhost.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return pluginhost.Manifest{}, err
	}
	val, ok := s.m.Get(manifestKey(pluginID))
	if !ok {
		return pluginhost.Manifest{}, ErrNotFound
	}
	var m pluginhost.Manifest
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return pluginhost.Manifest{}, fmt.Errorf("manifeststore: unmarshal manifest %s: %w", pluginID, err)
	}
	return m, nil
}

// DeleteManifest removes a manifest by ID.
func (s *ReplicatedStore) DeleteManifest(ctx context.Context, pluginID id.Id) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := manifestKey(pluginID)
	if _, ok := s.m.Get(key); !ok {
		return ErrNotFound
	}
	if _, err := s.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("manifeststore: delete manifest %s: %w", pluginID, err)
	}
	return nil
}

// ListManifests returns every known manifest, optionally filtered to a
// single isolation kind.
func (s *ReplicatedStore) ListManifests(ctx context.Context, isolation pluginhost.Isolation) ([]pluginhost.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := s.m.Keys()
	out := make([]pluginhost.Manifest, 0)
	for _, k := range keys {
		if !strings.HasPrefix(k, manifestKeyPrefix) {
			continue
		}
		idPart := strings.TrimPrefix(k, manifestKeyPrefix)
		pluginID, err := id.Parse(idPart)
		if err != nil {
			return nil, fmt.Errorf("manifeststore: parse key %q: %w", k, err)
		}
		m, err := s.GetManifest(ctx, pluginID)
		if err != nil {
			return nil, err
		}
		if isolation == "" || m.Isolation == isolation {
			out = append(out, m)
		}
	}
	return out, nil
}

func manifestKey(pluginID id.Id) string {
	return manifestKeyPrefix + pluginID.String()
}
