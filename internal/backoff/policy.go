// Package backoff provides jittered exponential backoff for retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) added on top.
	Jitter float64
}

// Compute calculates the backoff duration for a 1-indexed attempt:
// base = initialMs * factor^(attempt-1), plus base*jitter*random(), clamped
// to maxMs.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with the random value injected, for
// deterministic tests. randomValue should be in [0.0, 1.0).
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy suits short-lived HTTP retries.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%.
func DefaultPolicy() Policy {
	return Policy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}
}

// RefreshPolicy suits token refresh, where the upstream auth service may
// need a moment but the request is holding a client connection.
// Initial: 250ms, Max: 5s, Factor: 2, Jitter: 20%.
func RefreshPolicy() Policy {
	return Policy{InitialMs: 250, MaxMs: 5000, Factor: 2, Jitter: 0.2}
}
