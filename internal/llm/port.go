// Package llm provides the language-model provider port and its
// OpenAI-compatible implementations: a hand-layered HTTP client with a
// resilient transport stack, and an SDK-backed adapter.
package llm

import (
	"context"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// CompletionParams describes one completion request.
type CompletionParams struct {
	Model       string
	Messages    []*models.Message
	Temperature float64
	MaxTokens   int
	TopP        float64
	Tools       []models.ToolDefinition
	ToolChoice  string
}

// CompletionResponse is the normalized, single-choice view of a completion.
// Multi-choice responses are merged before they reach callers.
type CompletionResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	Usage        *models.Usage
	FinishReason string
}

// StreamHandlers receive incremental streaming events. Any handler may be
// nil; nil handlers are skipped.
type StreamHandlers struct {
	// OnChunk receives each content delta. Usage is non-nil only for
	// frames that carry a usage block.
	OnChunk func(delta string, usage *models.Usage)

	// OnToolCallDelta receives each partial tool call fragment as it
	// arrives. Fragments for one call share an index and must be
	// accumulated by the caller.
	OnToolCallDelta func(index int, tc models.ToolCall)

	// OnStreamFinish is called exactly once when the stream ends, with
	// the final finish reason and the trailing usage block if the server
	// sent one.
	OnStreamFinish func(finishReason string, usage *models.Usage)
}

// Port is the contract every provider implementation satisfies.
type Port interface {
	// Name identifies the provider for routing, logging, and metrics.
	Name() string

	// GenerateCompletion performs a blocking completion call.
	GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResponse, error)

	// StreamCompletion performs a streaming completion call, invoking the
	// handlers as frames arrive, and returns when the stream finishes.
	StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) error
}
