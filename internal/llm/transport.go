package llm

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/nuvin-ai/nuvin/internal/backoff"
	"github.com/nuvin-ai/nuvin/internal/observability"
)

// TransportConfig assembles the layered HTTP client used for provider
// calls. Layers, outermost to innermost: retry -> auth -> base.
type TransportConfig struct {
	// APIKey enables bearer authentication. Ignored when OAuth is set.
	APIKey string

	// OAuth enables OAuth authentication with single-flight refresh.
	OAuth *OAuthCredentials

	// MaxAttempts bounds the retry layer (including the first attempt).
	// Default: 3.
	MaxAttempts int

	// Backoff is the delay schedule between retry attempts.
	Backoff backoff.Policy

	// Base is the innermost transport. Default: http.DefaultTransport.
	Base http.RoundTripper

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewTransportStack builds the layered client. The retry layer wraps the
// auth layer so a refreshed credential is picked up by subsequent attempts.
func NewTransportStack(config TransportConfig) *http.Client {
	base := config.Base
	if base == nil {
		base = http.DefaultTransport
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	policy := config.Backoff
	if policy.Initial <= 0 {
		policy = backoff.DefaultPolicy()
	}

	var rt http.RoundTripper = base
	switch {
	case config.OAuth != nil:
		rt = &oauthTransport{creds: config.OAuth, base: rt, logger: logger}
	case config.APIKey != "":
		rt = &bearerTransport{key: config.APIKey, base: rt}
	}

	rt = &retryTransport{
		base:        rt,
		maxAttempts: maxAttempts,
		policy:      policy,
		logger:      logger,
		metrics:     config.Metrics,
	}

	return &http.Client{Transport: rt}
}

// bearerTransport injects a static bearer key into every request.
type bearerTransport struct {
	key  string
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.key)
	return t.base.RoundTrip(cloned)
}

// oauthTransport injects the current access token, refreshing expired
// credentials before the call and once more after a 401/403 response. The
// retry-after-refresh happens at most once per request.
type oauthTransport struct {
	creds  *OAuthCredentials
	base   http.RoundTripper
	logger *observability.Logger
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.creds.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := t.do(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	if req.GetBody == nil && req.Body != nil {
		// Cannot replay the body; surface the auth failure as-is.
		return resp, nil
	}

	drain(resp)
	t.logger.Info(ctx, "auth rejected, refreshing oauth token", "status", resp.StatusCode)
	refreshed, err := t.creds.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return t.do(req, refreshed.AccessToken)
}

func (t *oauthTransport) do(req *http.Request, token string) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	if req.GetBody != nil && req.Body != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		cloned.Body = body
	}
	cloned.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(cloned)
}

// retryTransport retries requests on network errors and the retryable
// status set with jittered exponential backoff, surfacing the last failure
// after exhaustion. Request bodies are replayed via GetBody.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	policy      backoff.Policy
	logger      *observability.Logger
	metrics     *observability.Metrics
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var resp *http.Response
	var lastErr error

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoff.Compute(t.policy, attempt-1)); err != nil {
				return nil, err
			}
		}

		cloned := req.Clone(ctx)
		if req.GetBody != nil && req.Body != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			cloned.Body = body
		}

		resp, lastErr = t.base.RoundTrip(cloned)
		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, lastErr
			}
			t.countRetry("network")
			t.logger.Warn(ctx, "request failed, retrying",
				"attempt", attempt,
				"max_attempts", t.maxAttempts,
				"error", lastErr,
			)
			continue
		}

		if !IsRetryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == t.maxAttempts {
			return resp, nil
		}
		if req.Body != nil && req.GetBody == nil {
			// Cannot replay the body, so this response is final.
			return resp, nil
		}

		t.countRetry("status")
		t.logger.Warn(ctx, "retryable status, retrying",
			"attempt", attempt,
			"max_attempts", t.maxAttempts,
			"status", resp.StatusCode,
		)
		drain(resp)
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return resp, nil
}

func (t *retryTransport) countRetry(reason string) {
	if t.metrics == nil {
		return
	}
	t.metrics.TransportRetries.WithLabelValues(reason).Inc()
}

// drain consumes and closes a response body so the connection can be
// reused before a retry.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
