package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/nuvin-ai/nuvin/internal/observability"
)

// expirySkew is subtracted from the token expiry when deciding whether a
// pre-flight refresh is needed, so tokens are refreshed slightly early
// rather than raced against the clock.
const expirySkew = 60 * time.Second

// OAuthCredentials holds one provider's OAuth token set, shared across all
// concurrent requests from that provider. Refresh is single-flighted: at
// most one refresh is in flight per credential, and concurrent callers wait
// for and share its result.
type OAuthCredentials struct {
	clientID   string
	tokenURL   string
	httpClient *http.Client
	logger     *observability.Logger

	// onUpdate, when set, is called with the new token after every
	// successful refresh (e.g., for persistence).
	onUpdate func(oauth2.Token)

	mu       sync.Mutex
	token    oauth2.Token
	inflight *refreshCall
}

// refreshCall is one in-flight refresh shared by all waiters.
type refreshCall struct {
	done  chan struct{}
	token oauth2.Token
	err   error
}

// OAuthConfig configures an OAuth credential set.
type OAuthConfig struct {
	ClientID     string
	TokenURL     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time

	// HTTPClient is used for refresh requests. Defaults to a plain client
	// with a 30 second timeout; the refresh path deliberately bypasses
	// the layered transport stack.
	HTTPClient *http.Client

	// OnUpdate is invoked after each successful refresh.
	OnUpdate func(oauth2.Token)

	Logger *observability.Logger
}

// NewOAuthCredentials creates a credential set from the stored token state.
func NewOAuthCredentials(config OAuthConfig) *OAuthCredentials {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &OAuthCredentials{
		clientID:   config.ClientID,
		tokenURL:   config.TokenURL,
		httpClient: httpClient,
		logger:     logger,
		onUpdate:   config.OnUpdate,
		token: oauth2.Token{
			AccessToken:  config.AccessToken,
			RefreshToken: config.RefreshToken,
			Expiry:       config.Expiry,
			TokenType:    "Bearer",
		},
	}
}

// AccessToken returns a currently-valid access token, refreshing first when
// the stored token is expired or about to expire. A zero expiry means the
// token does not expire.
func (c *OAuthCredentials) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token.AccessToken != "" && (token.Expiry.IsZero() || time.Until(token.Expiry) > expirySkew) {
		return token.AccessToken, nil
	}
	refreshed, err := c.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the refresh token for a new token set. Concurrent calls
// coalesce into one request against the token endpoint; every caller
// receives the same result.
func (c *OAuthCredentials) Refresh(ctx context.Context) (oauth2.Token, error) {
	c.mu.Lock()
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return oauth2.Token{}, ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	refreshToken := c.token.RefreshToken
	c.mu.Unlock()

	token, err := c.doRefresh(ctx, refreshToken)

	c.mu.Lock()
	c.inflight = nil
	if err == nil {
		c.token = token
	}
	onUpdate := c.onUpdate
	c.mu.Unlock()

	call.token = token
	call.err = err
	close(call.done)

	if err == nil && onUpdate != nil {
		onUpdate(token)
	}
	return token, err
}

// tokenResponse is the wire form of the token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *OAuthCredentials) doRefresh(ctx context.Context, refreshToken string) (oauth2.Token, error) {
	if refreshToken == "" {
		return oauth2.Token{}, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return oauth2.Token{}, fmt.Errorf("reading refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return oauth2.Token{}, fmt.Errorf("%w: %s", ErrRefreshFailed, (&APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}).Error())
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return oauth2.Token{}, fmt.Errorf("decoding refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return oauth2.Token{}, fmt.Errorf("%w: empty access token", ErrRefreshFailed)
	}

	token := oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    "Bearer",
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	if tr.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	c.logger.Info(ctx, "oauth token refreshed", "expires_in", tr.ExpiresIn)
	return token, nil
}
