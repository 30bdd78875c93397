package llm

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNoAPIKey indicates the provider has no credentials configured.
	ErrNoAPIKey = errors.New("no API key configured")

	// ErrNoChoices indicates the server returned a response with an empty
	// choices array.
	ErrNoChoices = errors.New("completion response contained no choices")

	// ErrRefreshFailed indicates an OAuth token refresh did not produce a
	// usable access token.
	ErrRefreshFailed = errors.New("oauth token refresh failed")
)

// APIError is a non-2xx response from the completion or token endpoint,
// surfaced with status and body text after the retry schedule is exhausted.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

// retryableStatuses is the closed set of HTTP statuses the retry transport
// will retry. Everything else fails fast.
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableStatus reports whether the transport retries the given status.
func IsRetryableStatus(status int) bool {
	return retryableStatuses[status]
}
