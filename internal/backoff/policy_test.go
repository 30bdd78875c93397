package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	policy := Policy{
		Initial: 100 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 100 * time.Millisecond},
		{"first attempt full jitter", 1, 1, 110 * time.Millisecond},
		{"second attempt doubles", 2, 0, 200 * time.Millisecond},
		{"fourth attempt", 4, 0, 800 * time.Millisecond},
		{"zero attempt clamps", 0, 0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeWithRand(policy, tt.attempt, tt.random); got != tt.want {
				t.Errorf("ComputeWithRand(attempt=%d, rand=%v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestComputeCapsAtMax(t *testing.T) {
	policy := Policy{Initial: time.Second, Max: 5 * time.Second, Factor: 10, Jitter: 0.5}
	if got := ComputeWithRand(policy, 5, 1); got != 5*time.Second {
		t.Errorf("Compute = %v, want capped at 5s", got)
	}
}

func TestComputeJitterVaries(t *testing.T) {
	policy := DefaultPolicy()
	low := ComputeWithRand(policy, 3, 0)
	high := ComputeWithRand(policy, 3, 0.999)
	if high <= low {
		t.Errorf("jitter did not increase delay: low=%v high=%v", low, high)
	}
}
