package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaRegistry resolves a pipeline Request's Kind to the JSON Schema its
// Payload must satisfy. Kinds with no registered schema are let through
// unvalidated, matching the upstream registry service's
// validatePayloadJSONAgainstSchema
// behavior of only checking skills that declare a schema.
type SchemaRegistry interface {
	Schema(kind string) (*jsonschema.Schema, bool)
}

// MapRegistry is a SchemaRegistry backed by a plain map, filled by Register
// calls; nothing in the kernel populates it from plugin manifests.
type MapRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewMapRegistry constructs an empty MapRegistry.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles raw (a JSON Schema document) and associates it with
// kind, replacing any previous schema for that kind.
func (r *MapRegistry) Register(kind string, raw json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("pipeline: unmarshal schema for %q: %w", kind, err)
	}
	c := jsonschema.NewCompiler()
	resource := "schema://" + kind
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("pipeline: add schema resource for %q: %w", kind, err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("pipeline: compile schema for %q: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[kind] = schema
	return nil
}

// Schema implements SchemaRegistry.
func (r *MapRegistry) Schema(kind string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[kind]
	return s, ok
}

// ValidateStage rejects any Request whose Payload does not conform to the
// schema registered for its Kind. Grounded on registry/service.go's
// validatePayloadJSONAgainstSchema, generalized from tool-invocation
// payloads to every admitted Request.
type ValidateStage struct {
	registry SchemaRegistry
}

// NewValidateStage builds a ValidateStage consulting registry.
func NewValidateStage(registry SchemaRegistry) *ValidateStage {
	return &ValidateStage{registry: registry}
}

// Process implements Processor.
func (v *ValidateStage) Process(_ context.Context, req Request) error {
	schema, ok := v.registry.Schema(req.Kind)
	if !ok {
		return nil
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload schema violation: %w", err)
	}
	return nil
}
