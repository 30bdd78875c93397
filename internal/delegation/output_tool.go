package delegation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nuvin-ai/nuvin/internal/agent"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// DefaultPollTimeout is the blocking wait window for task_output.
const DefaultPollTimeout = 300000 * time.Millisecond

// taskOutputSchema is the parameter contract for task_output.
const taskOutputSchema = `{
  "type": "object",
  "properties": {
    "session_id": {
      "type": "string",
      "description": "Session id returned by a background assign_task"
    },
    "blocking": {
      "type": "boolean",
      "description": "Wait for completion instead of returning the current state"
    },
    "timeout_ms": {
      "type": "number",
      "description": "Blocking wait window in milliseconds (default 300000)"
    }
  },
  "required": ["session_id"]
}`

// TaskOutputTool polls a background sub-agent session. Non-blocking calls
// report the current state; blocking calls race the session's completion
// against a timer with first-to-complete semantics, abandoning the loser
// rather than tearing it down.
type TaskOutputTool struct {
	registry *SessionRegistry
}

// NewTaskOutputTool creates the tool over the given registry.
func NewTaskOutputTool(registry *SessionRegistry) *TaskOutputTool {
	return &TaskOutputTool{registry: registry}
}

// Name implements agent.Tool.
func (t *TaskOutputTool) Name() string {
	return "task_output"
}

// Description implements agent.Tool.
func (t *TaskOutputTool) Description() string {
	return "Check on or wait for a background sub-agent task started with assign_task."
}

// Schema implements agent.Tool.
func (t *TaskOutputTool) Schema() json.RawMessage {
	return json.RawMessage(taskOutputSchema)
}

// Execute implements agent.Tool.
func (t *TaskOutputTool) Execute(ctx context.Context, params map[string]any, _ *agent.ExecContext) (*agent.ToolOutput, error) {
	sessionID := stringParam(params, "session_id")
	if sessionID == "" {
		return agent.ErrorOutput(models.ReasonInvalidInput, "task_output requires session_id"), nil
	}

	session, ok := t.registry.Get(sessionID)
	if !ok {
		return agent.JSONOutput(map[string]any{
			"session_id": sessionID,
			"state":      "not_found",
		}), nil
	}

	if !boolParam(params, "blocking") {
		return t.snapshot(session), nil
	}

	timeout := DefaultPollTimeout
	if ms, ok := intParam(params, "timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-session.Done():
			if session.State() != SessionRunning {
				return t.snapshot(session), nil
			}
			// The session was reopened between finishing and the wake;
			// the next Done call returns the fresh channel.
		case <-timer.C:
			return agent.ErrorOutput(models.ReasonTimeout,
				fmt.Sprintf("task_output timed out after %dms; session %s is still %s",
					timeout.Milliseconds(), sessionID, session.State())), nil
		case <-ctx.Done():
			return agent.ErrorOutput(models.ReasonAborted, "task_output cancelled"), nil
		}
	}
}

func (t *TaskOutputTool) snapshot(session *Session) *agent.ToolOutput {
	payload := map[string]any{
		"session_id": session.ID,
		"agent_id":   session.AgentID,
		"state":      string(session.State()),
	}
	if result := session.Result(); result != nil {
		payload["summary"] = result.Summary
		if result.Error != "" {
			payload["error"] = result.Error
		}
		if result.Metadata != nil {
			payload["metadata"] = result.Metadata
		}
	}
	return agent.JSONOutput(payload)
}
