package pluginhost

import (
	"context"
	"fmt"
)

// WasmRuntime is the seam a concrete Wasm engine plugs into. None of the
// example repos in the corpus depend on a Wasm runtime, so wasmSandbox
// takes the runtime as an injected dependency rather than importing one
// directly (see DESIGN.md); a deployment wires a real implementation
// (wazero, wasmtime-go, etc.) at startup.
type WasmRuntime interface {
	// Instantiate loads the module at path and returns an invoke function
	// for it. The returned function must be safe to call repeatedly.
	Instantiate(ctx context.Context, path string) (invoke func(ctx context.Context, request []byte) ([]byte, error), close func(ctx context.Context) error, err error)
}

type wasmSandbox struct {
	invoke func(ctx context.Context, request []byte) ([]byte, error)
	close  func(ctx context.Context) error
}

// NewWasmSandbox instantiates entryPoint inside runtime and returns a
// Sandbox wrapping the resulting module instance.
func NewWasmSandbox(ctx context.Context, runtime WasmRuntime, entryPoint string) (Sandbox, error) {
	if runtime == nil {
		return nil, fmt.Errorf("pluginhost: wasm isolation requires a WasmRuntime")
	}
	invoke, closeFn, err := runtime.Instantiate(ctx, entryPoint)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: instantiate wasm module %q: %w", entryPoint, err)
	}
	return &wasmSandbox{invoke: invoke, close: closeFn}, nil
}

func (s *wasmSandbox) Invoke(ctx context.Context, request []byte) ([]byte, error) {
	return s.invoke(ctx, request)
}

func (s *wasmSandbox) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}
