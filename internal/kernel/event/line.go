package event

import "fmt"

// Line renders e as the single human-readable status line the C4 broadcast
// stream (subscribe_broadcast) carries. This is a distinct payload from the
// structured SystemEvent subscribe_events exposes for the same occurrence —
// the two external streams never share a wire shape.
func Line(e Event) string {
	switch v := e.(type) {
	case TaskSubmitted:
		return fmt.Sprintf("task %s submitted", v.TaskID)
	case TaskCompleted:
		return fmt.Sprintf("task %s completed", v.TaskID)
	case TaskFailed:
		return fmt.Sprintf("task %s failed: %s", v.TaskID, v.Message)
	case PluginLoaded:
		return fmt.Sprintf("plugin %s loaded", v.PluginID)
	case PluginInvoked:
		return fmt.Sprintf("plugin %s invoked", v.PluginID)
	case PluginResult:
		return fmt.Sprintf("plugin %s returned a result", v.PluginID)
	case PluginError:
		return fmt.Sprintf("plugin %s error: %s", v.PluginID, v.Message)
	case AgentSpawned:
		return fmt.Sprintf("agent %s spawned", v.AgentID)
	case AgentPartialOutput:
		return fmt.Sprintf("agent %s chunk #%d", v.AgentID, v.Sequence)
	case AgentCompleted:
		return fmt.Sprintf("agent %s completed", v.AgentID)
	case AgentError:
		return fmt.Sprintf("agent %s error: %s", v.AgentID, v.Message)
	default:
		return string(e.Type())
	}
}
