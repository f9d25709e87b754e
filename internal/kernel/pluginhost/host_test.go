package pluginhost_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/core/internal/kernel/capability"
	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/pluginhost"
)

type fakeSandbox struct {
	invokeFn func(ctx context.Context, request []byte) ([]byte, error)
	closed   bool
}

func (s *fakeSandbox) Invoke(ctx context.Context, request []byte) ([]byte, error) {
	return s.invokeFn(ctx, request)
}

func (s *fakeSandbox) Close(context.Context) error {
	s.closed = true
	return nil
}

func newTestHost(t *testing.T, sandbox *fakeSandbox) (*pluginhost.Host, pluginhost.Manifest) {
	t.Helper()
	caps := capability.New()
	plugin := id.New(id.KindPlugin)
	manifest := pluginhost.Manifest{
		ID:               plugin,
		Name:             "test-plugin",
		Isolation:        "fake",
		Effects:          []capability.Grant{{Effect: "tool.invoke"}},
		CircuitThreshold: 2,
		CircuitCooldown:  10 * time.Millisecond,
	}
	host := pluginhost.New(caps, pluginhost.WithSandboxFactory("fake", func(context.Context, pluginhost.Manifest) (pluginhost.Sandbox, error) {
		return sandbox, nil
	}))
	require.NoError(t, host.Load(context.Background(), manifest))
	return host, manifest
}

func TestInvokeSucceedsWithGrantedEffect(t *testing.T) {
	sandbox := &fakeSandbox{invokeFn: func(ctx context.Context, req []byte) ([]byte, error) {
		return []byte("ok"), nil
	}}
	host, manifest := newTestHost(t, sandbox)

	resp, err := host.Invoke(context.Background(), manifest.ID, "tool.invoke", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp)
	assert.Equal(t, pluginhost.StateReady, host.State(manifest.ID))
}

func TestInvokeDeniedWithoutCapabilityGrant(t *testing.T) {
	sandbox := &fakeSandbox{invokeFn: func(ctx context.Context, req []byte) ([]byte, error) {
		return []byte("ok"), nil
	}}
	host, manifest := newTestHost(t, sandbox)

	_, err := host.Invoke(context.Background(), manifest.ID, "fs.write", nil)
	assert.ErrorIs(t, err, pluginhost.ErrCapabilityDenied)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	sandbox := &fakeSandbox{invokeFn: func(ctx context.Context, req []byte) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	host, manifest := newTestHost(t, sandbox)

	_, err := host.Invoke(context.Background(), manifest.ID, "tool.invoke", nil)
	require.Error(t, err)
	_, err = host.Invoke(context.Background(), manifest.ID, "tool.invoke", nil)
	require.Error(t, err)

	assert.Equal(t, pluginhost.StateFailed, host.State(manifest.ID))

	_, err = host.Invoke(context.Background(), manifest.ID, "tool.invoke", nil)
	assert.ErrorIs(t, err, pluginhost.ErrCircuitOpen)
}

func TestCircuitAllowsProbeAfterCooldown(t *testing.T) {
	sandbox := &fakeSandbox{invokeFn: func(ctx context.Context, req []byte) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	host, manifest := newTestHost(t, sandbox)

	for i := 0; i < 2; i++ {
		_, _ = host.Invoke(context.Background(), manifest.ID, "tool.invoke", nil)
	}
	require.Equal(t, pluginhost.StateFailed, host.State(manifest.ID))

	time.Sleep(20 * time.Millisecond)
	sandbox.invokeFn = func(ctx context.Context, req []byte) ([]byte, error) { return []byte("recovered"), nil }

	resp, err := host.Invoke(context.Background(), manifest.ID, "tool.invoke", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), resp)
	assert.Equal(t, pluginhost.StateReady, host.State(manifest.ID))
}

func TestUnloadClosesSandbox(t *testing.T) {
	sandbox := &fakeSandbox{invokeFn: func(ctx context.Context, req []byte) ([]byte, error) { return nil, nil }}
	host, manifest := newTestHost(t, sandbox)

	require.NoError(t, host.Unload(context.Background(), manifest.ID))
	assert.True(t, sandbox.closed)
	assert.Equal(t, pluginhost.StateUnloaded, host.State(manifest.ID))
}
