package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nuvin-ai/nuvin/internal/backoff"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		Backoff:     backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 1},
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("always failing")
	result := Do(context.Background(), fastConfig(3), func() error {
		return wantErr
	})

	if !errors.Is(result.Err, wantErr) {
		t.Errorf("Err = %v, want the last error surfaced", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	wantErr := errors.New("bad request")
	result := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(wantErr)
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a permanent error", calls)
	}
	if !errors.Is(result.Err, wantErr) {
		t.Errorf("Err = %v, want the wrapped error reachable", result.Err)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := Do(ctx, fastConfig(3), func() error {
		calls++
		return errors.New("should not run")
	})

	if calls != 0 {
		t.Errorf("calls = %d, want 0 with a cancelled context", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
}

func TestDoWithValue(t *testing.T) {
	calls := 0
	value, result := DoWithValue(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "payload", nil
	})

	if result.Err != nil {
		t.Fatalf("Err = %v", result.Err)
	}
	if value != "payload" {
		t.Errorf("value = %q", value)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("plain")) {
		t.Error("plain error classified permanent")
	}
	if !IsPermanent(Permanent(errors.New("fatal"))) {
		t.Error("wrapped error not classified permanent")
	}
	wrapped := errors.New("outer")
	if !IsPermanent(errors.Join(wrapped, Permanent(errors.New("inner")))) {
		t.Error("permanent error not found through join")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}
