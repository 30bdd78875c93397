package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// ClientConfig configures the OpenAI-compatible HTTP client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// ProviderName labels logs and metrics. Default: "openai-compatible".
	ProviderName string

	// Transport configures the layered HTTP stack (retry -> auth -> base).
	Transport TransportConfig

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Client is an OpenAI-compatible chat completion client built on the
// layered transport stack. It normalizes multi-choice responses into one
// logical result and implements SSE streaming.
type Client struct {
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewClient creates a client. The transport stack is assembled from
// config.Transport; auth and retry behavior live there.
func NewClient(config ClientConfig) *Client {
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	name := config.ProviderName
	if name == "" {
		name = "openai-compatible"
	}
	if config.Transport.Logger == nil {
		config.Transport.Logger = logger
	}
	if config.Transport.Metrics == nil {
		config.Transport.Metrics = config.Metrics
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		name:       name,
		httpClient: NewTransportStack(config.Transport),
		logger:     logger,
		metrics:    config.Metrics,
	}
}

// Name implements Port.
func (c *Client) Name() string {
	return c.name
}

// Wire types (OpenAI-compatible).

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
}

type chatChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *wireUsage     `json:"usage"`
}

type streamChoice struct {
	Delta        wireMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type wireUsage struct {
	PromptTokens            int            `json:"prompt_tokens"`
	CompletionTokens        int            `json:"completion_tokens"`
	TotalTokens             int            `json:"total_tokens"`
	PromptTokensDetails     map[string]int `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails map[string]int `json:"completion_tokens_details,omitempty"`
	Cost                    float64        `json:"cost,omitempty"`
}

func (u *wireUsage) toModel() *models.Usage {
	if u == nil {
		return nil
	}
	return &models.Usage{
		PromptTokens:            u.PromptTokens,
		CompletionTokens:        u.CompletionTokens,
		TotalTokens:             u.TotalTokens,
		PromptTokensDetails:     u.PromptTokensDetails,
		CompletionTokensDetails: u.CompletionTokensDetails,
		Cost:                    u.Cost,
	}
}

// GenerateCompletion implements Port. Multi-choice responses are merged:
// the non-empty trimmed choice texts are concatenated joined by a blank
// line, and tool_calls are flattened across choices in choice order.
func (c *Client) GenerateCompletion(ctx context.Context, params CompletionParams) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, c.buildRequest(params, false))
	if err != nil {
		c.observe(params.Model, start, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		c.observe(params.Model, start, err)
		return nil, fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.observe(params.Model, start, apiErr)
		return nil, apiErr
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.observe(params.Model, start, err)
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		c.observe(params.Model, start, ErrNoChoices)
		return nil, ErrNoChoices
	}

	result := mergeChoices(decoded.Choices)
	result.Usage = decoded.Usage.toModel()
	c.observe(params.Model, start, nil)
	c.countTokens(params.Model, result.Usage)
	return result, nil
}

// mergeChoices folds a multi-choice response into one logical result.
func mergeChoices(choices []chatChoice) *CompletionResponse {
	var texts []string
	var toolCalls []models.ToolCall
	var finishReason string

	for _, choice := range choices {
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
		if finishReason == "" {
			finishReason = choice.FinishReason
		}
	}

	return &CompletionResponse{
		Content:      strings.Join(texts, "\n\n"),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
	}
}

// StreamCompletion implements Port. Frames are parsed incrementally:
// content and tool-call deltas are forwarded as they arrive, and a trailing
// usage-only frame is captured and delivered with the finish callback.
func (c *Client) StreamCompletion(ctx context.Context, params CompletionParams, handlers StreamHandlers) error {
	start := time.Now()

	resp, err := c.post(ctx, c.buildRequest(params, true))
	if err != nil {
		c.observe(params.Model, start, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		c.observe(params.Model, start, apiErr)
		return apiErr
	}

	var usage *models.Usage
	var finishReason string

	scanner := newSSEScanner(resp.Body)
	for {
		payload, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.observe(params.Model, start, err)
			return fmt.Errorf("reading stream: %w", err)
		}
		if payload == doneFrame {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn(ctx, "skipping malformed stream frame", "error", err)
			continue
		}

		if chunk.Usage != nil {
			usage = chunk.Usage.toModel()
		}

		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			if choice.Delta.Content != "" && handlers.OnChunk != nil {
				handlers.OnChunk(choice.Delta.Content, chunk.Usage.toModel())
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
	c.observe(params.Model, start, nil)
	c.countTokens(params.Model, usage)
	return nil
}

func (c *Client) buildRequest(params CompletionParams, stream bool) chatRequest {
	req := chatRequest{
		Model:     params.Model,
		Messages:  toWireMessages(params.Messages),
		MaxTokens: params.MaxTokens,
		Stream:    stream,
	}
	if params.Temperature > 0 {
		req.Temperature = &params.Temperature
	}
	if params.TopP > 0 {
		req.TopP = &params.TopP
	}
	if len(params.Tools) > 0 {
		req.Tools = make([]wireTool, 0, len(params.Tools))
		for _, tool := range params.Tools {
			req.Tools = append(req.Tools, wireTool{
				Type: "function",
				Function: wireToolSpec{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			})
		}
		req.ToolChoice = params.ToolChoice
	}
	return req
}

func (c *Client) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return c.httpClient.Do(req)
}

// toWireMessages converts the unified message log into wire messages. Tool
// results expand to one tool message per result so every tool call the
// model made gets a matching reply.
func toWireMessages(messages []*models.Message) []wireMessage {
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleTool:
			for _, result := range msg.ToolResults {
				wire = append(wire, wireMessage{
					Role:       "tool",
					Content:    result.Content,
					ToolCallID: result.ToolCallID,
				})
			}
		case models.RoleAssistant:
			m := wireMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			wire = append(wire, m)
		default:
			wire = append(wire, wireMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return wire
}

func (c *Client) observe(model string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.LLMRequestDuration.WithLabelValues(c.name, model).Observe(time.Since(start).Seconds())
	c.metrics.LLMRequestCounter.WithLabelValues(c.name, model, status).Inc()
}

func (c *Client) countTokens(model string, usage *models.Usage) {
	if c.metrics == nil || usage == nil {
		return
	}
	c.metrics.LLMTokensUsed.WithLabelValues(c.name, model, "prompt").Add(float64(usage.PromptTokens))
	c.metrics.LLMTokensUsed.WithLabelValues(c.name, model, "completion").Add(float64(usage.CompletionTokens))
}
