package pluginhost

import "context"

// Sandbox is the isolation boundary a loaded plugin runs inside. Invoke
// sends a single request frame and waits for the matching response frame;
// Close releases whatever resources back the sandbox (a process, a Wasm
// instance).
type Sandbox interface {
	Invoke(ctx context.Context, request []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// SandboxFactory builds the Sandbox for a manifest's Isolation mode.
type SandboxFactory func(ctx context.Context, m Manifest) (Sandbox, error)
