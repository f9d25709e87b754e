// Package manifeststore defines the persistence layer for plugin manifests.
//
// The Store interface abstracts manifest storage so a kernel restart can
// recover which plugins were known without replaying the event log from
// genesis. Available implementations:
//
//   - memory: in-memory store for development and single-node testing
//   - replicated: Redis-backed replicated map for multi-node clusters
//
// To add a new implementation, create a subpackage that implements the
// Store interface and returns manifeststore.ErrNotFound for missing
// manifests.
package manifeststore

import (
	"context"
	"errors"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
)

// ErrNotFound is returned when a manifest is not found in the store.
var ErrNotFound = errors.New("manifest not found")

// Store persists pluginhost.Manifest records. Implementations must be safe
// for concurrent use.
type Store interface {
	// SaveManifest stores or updates a manifest. If a manifest with the
	// same ID already exists, it is replaced.
	SaveManifest(ctx context.Context, manifest pluginhost.Manifest) error

	// GetManifest retrieves a manifest by ID. Returns ErrNotFound if the
	// manifest does not exist.
	GetManifest(ctx context.Context, pluginID id.Id) (pluginhost.Manifest, error)

	// DeleteManifest removes a manifest by ID. Returns ErrNotFound if the
	// manifest does not exist.
	DeleteManifest(ctx context.Context, pluginID id.Id) error

	// ListManifests returns every known manifest, optionally filtered to
	// a single isolation kind. An empty isolation matches every manifest.
	ListManifests(ctx context.Context, isolation pluginhost.Isolation) ([]pluginhost.Manifest, error)
}
