package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nuvin-ai/nuvin/internal/backoff"
	"github.com/nuvin-ai/nuvin/internal/retry"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

func sdkRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		Backoff:     backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 1},
	}
}

func TestSDKProviderNoAPIKey(t *testing.T) {
	provider := NewSDKProvider(SDKConfig{})
	if _, err := provider.GenerateCompletion(context.Background(), CompletionParams{Model: "m"}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("GenerateCompletion err = %v, want ErrNoAPIKey", err)
	}
	if err := provider.StreamCompletion(context.Background(), CompletionParams{Model: "m"}, StreamHandlers{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("StreamCompletion err = %v, want ErrNoAPIKey", err)
	}
}

func TestSDKProviderRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "recovered"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	provider := NewSDKProvider(SDKConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Retry:   sdkRetryConfig(),
	})

	resp, err := provider.GenerateCompletion(context.Background(), CompletionParams{
		Model:    "m",
		Messages: []*models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("GenerateCompletion: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q", resp.Content)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestSDKProviderDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	provider := NewSDKProvider(SDKConfig{
		APIKey:  "sk-test",
		BaseURL: server.URL,
		Retry:   sdkRetryConfig(),
	})

	if _, err := provider.GenerateCompletion(context.Background(), CompletionParams{Model: "m"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 for a permanent error", got)
	}
}

func TestIsRetryableSDKError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 500}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, false},
		{"request error retryable", &openai.RequestError{HTTPStatusCode: 503}, true},
		{"request error permanent", &openai.RequestError{HTTPStatusCode: 404}, false},
		{"plain network error", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableSDKError(tt.err); got != tt.want {
				t.Errorf("isRetryableSDKError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
