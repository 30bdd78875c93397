package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nuvin-ai/nuvin/internal/backoff"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

func newTestClient(serverURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL: serverURL,
		Transport: TransportConfig{
			APIKey:      "sk-test",
			MaxAttempts: 1,
			Backoff:     backoff.Policy{Initial: time.Millisecond, Max: time.Millisecond, Factor: 1},
		},
	})
}

func completionServer(t *testing.T, response string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decoding request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
}

func TestGenerateCompletionSingleChoice(t *testing.T) {
	var captured chatRequest
	server := completionServer(t, `{
		"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, &captured)
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.GenerateCompletion(context.Background(), CompletionParams{
		Model:     "test-model",
		MaxTokens: 128,
		Messages:  []*models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if captured.Model != "test-model" || captured.MaxTokens != 128 || captured.Stream {
		t.Errorf("request = %+v", captured)
	}
}

func TestGenerateCompletionMergesChoices(t *testing.T) {
	// Choice 0 carries only tool calls, choice 1 only text. The merged
	// result keeps both.
	server := completionServer(t, `{
		"choices": [
			{"message": {"role": "assistant", "content": "", "tool_calls": [
				{"id": "call-a", "type": "function", "function": {"name": "search", "arguments": "{\"q\":\"go\"}"}}
			]}, "finish_reason": "tool_calls"},
			{"message": {"role": "assistant", "content": "  hi  "}, "finish_reason": "stop"}
		]
	}`, nil)
	defer server.Close()

	client := newTestClient(server.URL)
	resp, err := client.GenerateCompletion(context.Background(), CompletionParams{Model: "m"})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want trimmed single text", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call-a" || resp.ToolCalls[0].Name != "search" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q, want first non-empty", resp.FinishReason)
	}
}

func TestMergeChoicesJoinsTexts(t *testing.T) {
	merged := mergeChoices([]chatChoice{
		{Message: wireMessage{Content: "first part  "}},
		{Message: wireMessage{Content: ""}},
		{Message: wireMessage{Content: "\n second part"}},
	})
	if merged.Content != "first part\n\nsecond part" {
		t.Errorf("Content = %q, want trimmed texts joined by a blank line", merged.Content)
	}
}

func TestGenerateCompletionNoChoices(t *testing.T) {
	server := completionServer(t, `{"choices": []}`, nil)
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GenerateCompletion(context.Background(), CompletionParams{Model: "m"})
	if !errors.Is(err, ErrNoChoices) {
		t.Errorf("err = %v, want ErrNoChoices", err)
	}
}

func TestGenerateCompletionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GenerateCompletion(context.Background(), CompletionParams{Model: "m"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("err = %v, want APIError with status 400", err)
	}
}

func TestStreamCompletion(t *testing.T) {
	frames := []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-a","function":{"name":"search","arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`not json at all`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			_, _ = w.Write([]byte("data: " + frame + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	var content strings.Builder
	var toolArgs strings.Builder
	var toolIndexes []int
	var finishReason string
	var finalUsage *models.Usage
	finishCalls := 0

	client := newTestClient(server.URL)
	err := client.StreamCompletion(context.Background(), CompletionParams{Model: "m"}, StreamHandlers{
		OnChunk: func(delta string, _ *models.Usage) {
			content.WriteString(delta)
		},
		OnToolCallDelta: func(index int, tc models.ToolCall) {
			toolIndexes = append(toolIndexes, index)
			toolArgs.WriteString(tc.Arguments)
		},
		OnStreamFinish: func(reason string, usage *models.Usage) {
			finishCalls++
			finishReason = reason
			finalUsage = usage
		},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	if content.String() != "Hello" {
		t.Errorf("content = %q", content.String())
	}
	if toolArgs.String() != `{"q":"go"}` {
		t.Errorf("accumulated tool arguments = %q", toolArgs.String())
	}
	for _, idx := range toolIndexes {
		if idx != 0 {
			t.Errorf("tool call delta index = %d, want 0", idx)
		}
	}
	if finishCalls != 1 {
		t.Errorf("OnStreamFinish called %d times, want 1", finishCalls)
	}
	if finishReason != "tool_calls" {
		t.Errorf("finishReason = %q", finishReason)
	}
	if finalUsage == nil || finalUsage.TotalTokens != 10 {
		t.Errorf("usage = %+v, want the trailing usage-only frame captured", finalUsage)
	}
}

func TestToWireMessagesExpandsToolResults(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "do two things"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "a", Arguments: "{}"},
			{ID: "c2", Name: "b", Arguments: "{}"},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: "r1"},
			{ToolCallID: "c2", Content: "r2", IsError: true},
		}},
	}

	wire := toWireMessages(messages)
	if len(wire) != 4 {
		t.Fatalf("len(wire) = %d, want user + assistant + 2 tool messages", len(wire))
	}
	if len(wire[1].ToolCalls) != 2 || wire[1].ToolCalls[0].Type != "function" {
		t.Errorf("assistant wire message = %+v", wire[1])
	}
	if wire[2].Role != "tool" || wire[2].ToolCallID != "c1" || wire[2].Content != "r1" {
		t.Errorf("wire[2] = %+v", wire[2])
	}
	if wire[3].ToolCallID != "c2" || wire[3].Content != "r2" {
		t.Errorf("wire[3] = %+v", wire[3])
	}
}
