package pipeline

import (
	"context"
	"fmt"

	"github.com/agentkernel/core/internal/kernel/capability"
)

// PermissionStage rejects any Request whose Subject lacks a capability
// grant for its Effect, deferring the actual deny-precedence evaluation to
// capability.Store.Check. A Request with an empty Effect skips the check
// entirely — not every admitted request concerns a capability-gated
// effect. Grounded on runtime/a2a/policy's skill-filtering gate.
type PermissionStage struct {
	store *capability.Store
}

// NewPermissionStage builds a PermissionStage consulting store.
func NewPermissionStage(store *capability.Store) *PermissionStage {
	return &PermissionStage{store: store}
}

// Process implements Processor.
func (p *PermissionStage) Process(_ context.Context, req Request) error {
	if req.Effect == "" {
		return nil
	}
	decision := p.store.Check(req.Subject, capability.Effect(req.Effect), req.Target, req.Payload)
	if !decision.Allowed {
		return fmt.Errorf("capability denied: %s", decision.Reason)
	}
	return nil
}
