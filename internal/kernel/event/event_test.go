package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentkernel/core/internal/kernel/event"
	"github.com/agentkernel/core/internal/kernel/id"
)

func TestVariantTypeTags(t *testing.T) {
	taskID := id.New(id.KindTask)
	agentID := id.New(id.KindAgent)
	pluginID := id.New(id.KindPlugin)

	cases := []struct {
		name string
		evt  event.Event
		want event.Type
	}{
		{"task submitted", event.NewTaskSubmitted(taskID, id.Id{}, nil), event.TypeTaskSubmitted},
		{"task completed", event.NewTaskCompleted(taskID, nil), event.TypeTaskCompleted},
		{"task failed", event.NewTaskFailed(taskID, event.ErrInternal, "boom", "validate"), event.TypeTaskFailed},
		{"plugin loaded", event.NewPluginLoaded(pluginID, "sha256:abc"), event.TypePluginLoaded},
		{"plugin invoked", event.NewPluginInvoked(pluginID, id.Id{}, nil), event.TypePluginInvoked},
		{"plugin result", event.NewPluginResult(pluginID, id.Id{}, nil), event.TypePluginResult},
		{"plugin error", event.NewPluginError(pluginID, id.Id{}, event.ErrCapabilityDenied, "out of scope"), event.TypePluginError},
		{"agent spawned", event.NewAgentSpawned(agentID, id.Id{}, "count to 3"), event.TypeAgentSpawned},
		{"agent partial output", event.NewAgentPartialOutput(agentID, "1", 0), event.TypeAgentPartialChunk},
		{"agent completed", event.NewAgentCompleted(agentID, "done"), event.TypeAgentCompleted},
		{"agent error", event.NewAgentError(agentID, event.ErrTimeout, "deadline exceeded"), event.TypeAgentError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.evt.Type())
		})
	}
}

func TestLineRendersAHumanReadableOneLinerPerVariant(t *testing.T) {
	pluginID := id.New(id.KindPlugin)
	agentID := id.New(id.KindAgent)

	cases := []struct {
		name string
		evt  event.Event
		want string
	}{
		{"plugin loaded", event.NewPluginLoaded(pluginID, "sha256:abc"), "plugin " + pluginID.String() + " loaded"},
		{"plugin error", event.NewPluginError(pluginID, id.Id{}, event.ErrCapabilityDenied, "out of scope"),
			"plugin " + pluginID.String() + " error: out of scope"},
		{"agent completed", event.NewAgentCompleted(agentID, "done"), "agent " + agentID.String() + " completed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, event.Line(tc.evt))
		})
	}
}

func TestWithStampDoesNotMutateOriginal(t *testing.T) {
	evt := event.NewAgentCompleted(id.New(id.KindAgent), "done")
	assert.True(t, evt.Stamp().IsZero())

	ts := time.UnixMilli(1_700_000_000_000)
	stamped := evt.WithStamp(ts)
	assert.Equal(t, ts, stamped.Stamp())
	assert.True(t, evt.Stamp().IsZero(), "WithStamp must not mutate the receiver")
}
