// Package retry provides bounded retry of operations with backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/nuvin-ai/nuvin/internal/backoff"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// Backoff computes the delay between attempts.
	Backoff backoff.Policy
}

// DefaultConfig returns a default retry configuration: 3 attempts with the
// default jittered exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     backoff.DefaultPolicy(),
	}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent.
	Duration time.Duration
}

// Do executes op until it succeeds, a permanent error is returned, the
// context is cancelled, or attempts are exhausted. The last error is
// surfaced in the result.
func Do(ctx context.Context, config Config, op func() error) Result {
	start := time.Now()
	result := Result{}

	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Backoff.Initial <= 0 {
		config.Backoff = backoff.DefaultPolicy()
	}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			break
		}

		err := op()
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if IsPermanent(err) || attempt >= config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-time.After(backoff.Compute(config.Backoff, attempt)):
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation returning a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func() (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func() error {
		var err error
		value, err = op()
		return err
	})
	return value, result
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (should not be retried).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
