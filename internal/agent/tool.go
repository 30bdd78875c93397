// Package agent implements the conversation loop and its tool machinery:
// tool registration, tool-call validation, and bounded-concurrency
// execution.
package agent

import (
	"context"
	"encoding/json"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// Tool is a named capability the model can invoke. Implementations receive
// already-parsed parameters; schema validation happens in the conversion
// layer before execution.
type Tool interface {
	// Name returns the unique tool identifier exposed to the model.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters, or nil
	// for tools with untyped parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures that the model should see are
	// returned as an error ToolOutput; a non-nil error means the tool
	// itself broke and is wrapped into an error result by the engine.
	Execute(ctx context.Context, params map[string]any, execCtx *ExecContext) (*ToolOutput, error)
}

// ToolOutput is what a tool implementation returns to the engine.
type ToolOutput struct {
	Content  string
	Type     models.ResultType
	IsError  bool
	Reason   models.ErrorReason
	Metadata map[string]any
}

// TextOutput builds a plain text success output.
func TextOutput(content string) *ToolOutput {
	return &ToolOutput{Content: content, Type: models.ResultText}
}

// JSONOutput marshals v and returns it as a JSON success output. Marshal
// failures degrade to an error output rather than propagating.
func JSONOutput(v any) *ToolOutput {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorOutput(models.ReasonUnknown, "encoding tool result: "+err.Error())
	}
	return &ToolOutput{Content: string(data), Type: models.ResultJSON}
}

// ErrorOutput builds an error output carrying the given reason.
func ErrorOutput(reason models.ErrorReason, message string) *ToolOutput {
	return &ToolOutput{
		Content: message,
		Type:    models.ResultText,
		IsError: true,
		Reason:  reason,
	}
}

// Definition returns the wire-level tool definition for a tool. Tools
// without a schema get a permissive empty object schema.
func Definition(t Tool) models.ToolDefinition {
	schema := t.Schema()
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return models.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  schema,
	}
}
