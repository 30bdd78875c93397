package delegation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nuvin-ai/nuvin/internal/agent"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// assignTaskSchema is the parameter contract for assign_task.
const assignTaskSchema = `{
  "type": "object",
  "properties": {
    "agent": {
      "type": "string",
      "description": "Catalog id of the specialist agent to delegate to"
    },
    "task": {
      "type": "string",
      "description": "The full instruction for the sub-agent"
    },
    "description": {
      "type": "string",
      "description": "One-line summary of the task"
    },
    "background": {
      "type": "boolean",
      "description": "Run detached; poll the result with task_output"
    },
    "resume": {
      "type": "string",
      "description": "Session id of a previous run to resume"
    }
  },
  "required": ["agent", "task", "description"]
}`

// AssignTool is the assign_task tool: it hands one task to a specialist
// sub-agent via the delegation service.
type AssignTool struct {
	service *Service
}

// NewAssignTool creates the tool over the given service.
func NewAssignTool(service *Service) *AssignTool {
	return &AssignTool{service: service}
}

// Name implements agent.Tool.
func (t *AssignTool) Name() string {
	return "assign_task"
}

// Description implements agent.Tool.
func (t *AssignTool) Description() string {
	return "Delegate a task to a specialist sub-agent. The sub-agent runs its own conversation loop with its own tools and reports a summary back."
}

// Schema implements agent.Tool.
func (t *AssignTool) Schema() json.RawMessage {
	return json.RawMessage(assignTaskSchema)
}

// Execute implements agent.Tool. Every delegation outcome becomes a
// well-formed tool output keyed by the result kind.
func (t *AssignTool) Execute(ctx context.Context, params map[string]any, execCtx *agent.ExecContext) (*agent.ToolOutput, error) {
	delegateParams := DelegateParams{
		Agent:       stringParam(params, "agent"),
		Task:        stringParam(params, "task"),
		Description: stringParam(params, "description"),
		Background:  boolParam(params, "background"),
		Resume:      stringParam(params, "resume"),
	}

	result := t.service.Delegate(ctx, delegateParams, execCtx)
	switch result.Kind {
	case models.DelegationOK:
		if result.SessionID != "" && delegateParams.Background {
			return agent.JSONOutput(map[string]any{
				"session_id": result.SessionID,
				"state":      string(SessionRunning),
				"summary":    result.Summary,
			}), nil
		}
		out := agent.TextOutput(formatSummary(result))
		out.Metadata = result.Metadata
		return out, nil
	case models.DelegationNotFound:
		return agent.ErrorOutput(models.ReasonNotFound, result.Error), nil
	case models.DelegationPolicyDenied:
		return agent.ErrorOutput(models.ReasonPolicyDenied, result.Error), nil
	case models.DelegationDepthExceeded:
		return agent.ErrorOutput(models.ReasonPolicyDenied, result.Error), nil
	case models.DelegationInvalidInput:
		return agent.ErrorOutput(models.ReasonInvalidInput, result.Error), nil
	default:
		return agent.ErrorOutput(models.ReasonUnknown, result.Error), nil
	}
}

func formatSummary(result *models.DelegationResult) string {
	if result.Metadata == nil {
		return result.Summary
	}
	return fmt.Sprintf("%s\n\n[agent=%v duration_ms=%v tool_calls=%v tokens=%v]",
		result.Summary,
		result.Metadata["agentId"],
		result.Metadata["executionTimeMs"],
		result.Metadata["toolCallsExecuted"],
		result.Metadata["tokensUsed"],
	)
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func boolParam(params map[string]any, key string) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return false
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}
