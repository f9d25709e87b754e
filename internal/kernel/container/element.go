// Package container provides the kernel's trackable-entity primitives:
// ElementData (the audit header every tracked entity carries), Pile (a
// concurrent keyed container), and Progression (an append-only ordered id
// sequence). These generalize the upstream engine's subscriber-map and run-map
// patterns (runtime/agent/hooks.bus, runtime/agent/engine/inmem) into
// reusable, type-parametric containers.
package container

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/agentkernel/core/internal/kernel/id"
)

// ElementData is the immutable audit header embedded by every domain entity
// that must be trackable: id, creation time, and a free-form metadata tree.
// ElementData is immutable after creation — any update to a
// tracked entity is modeled as a new event referencing the prior id, never
// an in-place mutation of this struct.
//
// Metadata uses structpb.Struct for its tree-structured value: a ready-made
// arbitrary JSON-shaped tree with its own proto and JSON encoding, so
// ElementData round-trips through both the durable JSON envelope and the
// binary mailbox frame without a bespoke tree type.
type ElementData struct {
	ID        id.Id
	CreatedAt time.Time
	Metadata  *structpb.Struct
}

// NewElementData constructs an ElementData stamped with the current time.
// metadata may be nil; if non-nil its values must be JSON-representable
// (the same constraint structpb.NewStruct imposes).
func NewElementData(entityID id.Id, metadata map[string]any) (ElementData, error) {
	var m *structpb.Struct
	if metadata != nil {
		var err error
		m, err = structpb.NewStruct(metadata)
		if err != nil {
			return ElementData{}, fmt.Errorf("container: build metadata tree: %w", err)
		}
	}
	return ElementData{ID: entityID, CreatedAt: time.Now(), Metadata: m}, nil
}
