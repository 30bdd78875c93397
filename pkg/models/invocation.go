package models

// ToolInvocation is a validated, typed request to run one tool. It is
// produced exactly once by the conversion layer from a raw ToolCall and
// consumed exactly once by the execution engine. Treat as immutable.
type ToolInvocation struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`

	// EditInstruction is a side-channel user correction. When set, the
	// engine short-circuits the call with an Edited error result instead
	// of executing the tool.
	EditInstruction string `json:"edit_instruction,omitempty"`
}

// ResultStatus is the terminal status of one tool invocation.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ResultType describes the payload encoding of a tool result.
type ResultType string

const (
	ResultText ResultType = "text"
	ResultJSON ResultType = "json"
)

// ErrorReason is the closed set of tool execution failure kinds carried in
// ToolExecutionResult metadata. Consumers branch on these values rather than
// matching error strings.
type ErrorReason string

const (
	ReasonParse        ErrorReason = "parse"
	ReasonValidation   ErrorReason = "validation"
	ReasonToolNotFound ErrorReason = "tool_not_found"
	ReasonAborted      ErrorReason = "aborted"
	ReasonEdited       ErrorReason = "edited"
	ReasonInvalidInput ErrorReason = "invalid_input"
	ReasonNotFound     ErrorReason = "not_found"
	ReasonPolicyDenied ErrorReason = "policy_denied"
	ReasonTimeout      ErrorReason = "timeout"
	ReasonUnknown      ErrorReason = "unknown"
)

// MetadataErrorReason is the metadata key under which an ErrorReason is
// stored on error results.
const MetadataErrorReason = "errorReason"

// ToolExecutionResult is the immutable outcome record for one invocation.
// Every ToolInvocation maps to exactly one result, including not-found,
// validation failure, and cancellation cases.
type ToolExecutionResult struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Status     ResultStatus   `json:"status"`
	Type       ResultType     `json:"type"`
	Result     string         `json:"result"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// ErrorReason returns the error kind recorded on this result, or
// ReasonUnknown for error results without one. Success results return "".
func (r *ToolExecutionResult) ErrorReason() ErrorReason {
	if r.Status != StatusError {
		return ""
	}
	if r.Metadata != nil {
		if reason, ok := r.Metadata[MetadataErrorReason].(ErrorReason); ok {
			return reason
		}
		if reason, ok := r.Metadata[MetadataErrorReason].(string); ok {
			return ErrorReason(reason)
		}
	}
	return ReasonUnknown
}

// NewErrorResult builds an error result carrying the given reason.
func NewErrorResult(id, name string, reason ErrorReason, message string, durationMs int64) ToolExecutionResult {
	return ToolExecutionResult{
		ID:         id,
		Name:       name,
		Status:     StatusError,
		Type:       ResultText,
		Result:     message,
		Metadata:   map[string]any{MetadataErrorReason: reason},
		DurationMs: durationMs,
	}
}

// ToToolResult converts an execution result to its wire form for inclusion
// in a tool message.
func (r *ToolExecutionResult) ToToolResult() ToolResult {
	return ToolResult{
		ToolCallID: r.ID,
		Content:    r.Result,
		IsError:    r.Status == StatusError,
	}
}
