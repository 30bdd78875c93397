package agent

import (
	"errors"
	"fmt"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// Sentinel errors for agent operations.
var (
	// ErrMaxIterations indicates the conversation loop exceeded its
	// iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrWallTimeExceeded indicates the run exceeded its wall-clock budget.
	ErrWallTimeExceeded = errors.New("wall time limit exceeded")

	// ErrAborted indicates the run was cancelled before producing a
	// terminal response.
	ErrAborted = errors.New("execution aborted by user")

	// ErrSubAgentAborted is the terminal error returned when a nested run
	// is entered with an already-cancelled context. Its text is surfaced
	// verbatim as the delegation outcome.
	ErrSubAgentAborted = errors.New("Sub-agent execution aborted by user")

	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")
)

// ConversionFailure is the typed outcome of a tool call that could not be
// converted into an invocation. ErrorType is models.ReasonParse for
// malformed argument JSON and models.ReasonValidation for schema
// rejections.
type ConversionFailure struct {
	CallID    string
	ToolName  string
	ErrorType models.ErrorReason
	Err       error

	// RawArguments preserves the original argument string for parse
	// failures so callers can log or surface it.
	RawArguments string
}

// Error implements the error interface.
func (f *ConversionFailure) Error() string {
	return fmt.Sprintf("converting tool call %s (%s): %s failure: %v", f.CallID, f.ToolName, f.ErrorType, f.Err)
}

// Unwrap returns the underlying error.
func (f *ConversionFailure) Unwrap() error {
	return f.Err
}
