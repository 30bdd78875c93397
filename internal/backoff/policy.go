// Package backoff provides exponential backoff with jitter for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the backoff applied after the first failure.
	Initial time.Duration
	// Max caps the computed backoff.
	Max time.Duration
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// base = initial * factor^(attempt-1); jitter = base * jitter * random().
// Returns min(max, base + jitter). Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff using a provided random value in
// [0.0, 1.0). Used by tests for deterministic results.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(policy.Initial) * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(float64(policy.Max), base+jitter)
	return time.Duration(total)
}

// DefaultPolicy returns the backoff used by the HTTP transport retry layer.
// Initial: 250ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{
		Initial: 250 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// AggressivePolicy returns a policy for quick retries with short delays.
func AggressivePolicy() Policy {
	return Policy{
		Initial: 50 * time.Millisecond,
		Max:     5 * time.Second,
		Factor:  1.5,
		Jitter:  0.05,
	}
}
