package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/internal/retry"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// SDKProvider implements Port on top of the go-openai SDK. It is the
// batteries-included alternative to Client for providers that speak exact
// OpenAI semantics; stream creation is retried on transient failures.
type SDKProvider struct {
	client *openai.Client
	retry  retry.Config
	logger *observability.Logger
}

// SDKConfig configures the SDK-backed provider.
type SDKConfig struct {
	APIKey string

	// BaseURL overrides the API root for OpenAI-compatible servers.
	BaseURL string

	// Retry bounds stream/completion creation attempts.
	Retry retry.Config

	Logger *observability.Logger
}

// NewSDKProvider creates a provider. An empty API key is allowed for
// delayed configuration; calls fail with ErrNoAPIKey until one is set.
func NewSDKProvider(config SDKConfig) *SDKProvider {
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = retry.DefaultConfig()
	}

	p := &SDKProvider{retry: config.Retry, logger: logger}
	if config.APIKey == "" {
		return p
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	p.client = openai.NewClientWithConfig(clientConfig)
	return p
}

// Name implements Port.
func (p *SDKProvider) Name() string {
	return "openai"
}

// GenerateCompletion implements Port.
func (p *SDKProvider) GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResponse, error) {
	if p.client == nil {
		return nil, ErrNoAPIKey
	}

	req := p.buildRequest(params, false)
	resp, result := retry.DoWithValue(ctx, p.retry, func() (openai.ChatCompletionResponse, error) {
		r, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil && !isRetryableSDKError(err) {
			return r, retry.Permanent(err)
		}
		return r, err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("completion request: %w", result.Err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	var texts []string
	var toolCalls []models.ToolCall
	finishReason := string(resp.Choices[0].FinishReason)
	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			texts = append(texts, text)
		}
		for _, tc := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return &CompletionResponse{
		Content:      strings.Join(texts, "\n\n"),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage: &models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamCompletion implements Port. Tool call fragments are forwarded with
// their choice-local index so the caller can accumulate them.
func (p *SDKProvider) StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) error {
	if p.client == nil {
		return ErrNoAPIKey
	}

	req := p.buildRequest(params, true)
	stream, result := retry.DoWithValue(ctx, p.retry, func() (*openai.ChatCompletionStream, error) {
		s, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil && !isRetryableSDKError(err) {
			return nil, retry.Permanent(err)
		}
		return s, err
	})
	if result.Err != nil {
		return fmt.Errorf("creating completion stream: %w", result.Err)
	}
	defer stream.Close()

	var usage *models.Usage
	var finishReason string

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("receiving stream chunk: %w", err)
		}

		if response.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}

		for _, choice := range response.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" && handlers.OnChunk != nil {
				handlers.OnChunk(choice.Delta.Content, usage)
			}
			for i, tc := range choice.Delta.ToolCalls {
				if handlers.OnToolCallDelta == nil {
					continue
				}
				index := i
				if tc.Index != nil {
					index = *tc.Index
				}
				handlers.OnToolCallDelta(index, models.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		}
	}

	if handlers.OnStreamFinish != nil {
		handlers.OnStreamFinish(finishReason, usage)
	}
	return nil
}

func (p *SDKProvider) buildRequest(params CompletionParams, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    toSDKMessages(params.Messages),
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
		Stream:      stream,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	for _, tool := range params.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return req
}

func toSDKMessages(messages []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleTool:
			for _, result := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    result.Content,
					ToolCallID: result.ToolCallID,
				})
			}
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, m)
		default:
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}
	return out
}

// isRetryableSDKError reports whether an SDK error is transient: rate
// limits, server errors, and request timeouts.
func isRetryableSDKError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return IsRetryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return IsRetryableStatus(reqErr.HTTPStatusCode)
	}
	// Plain transport failures (connection reset, DNS) arrive unwrapped.
	return true
}
