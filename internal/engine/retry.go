package engine

import (
	"math/rand"
	"slices"
	"time"

	"pipeline/internal/pipeline"
)

// Retrier computes the attempt schedule for one stage execution: whether a
// failed attempt is eligible for another try, and how long to wait before
// it.
//
// The delay follows exponential backoff with jitter:
//
//	delay = min(maxDelay, baseDelay * 2^(attempt-1)) + uniform(0, jitter)
//
// Jitter comes from a seedable PRNG so tests can pin the schedule; without
// an explicit seed the source is time-seeded.
type Retrier struct {
	policy pipeline.RetryPolicy
	rng    *rand.Rand
}

func NewRetrier(policy pipeline.RetryPolicy) *Retrier {
	seed := time.Now().UnixNano()
	if policy.Seed != nil {
		seed = *policy.Seed
	}

	return &Retrier{
		policy: policy,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// ShouldRetry reports whether another attempt is allowed after the given
// 1-based attempt exited with exitCode. With no configured retryable exit
// codes, every non-zero exit is retryable; otherwise only listed codes are.
func (r *Retrier) ShouldRetry(attempt, exitCode int) bool {
	if attempt >= r.policy.MaxAttempts {
		return false
	}

	if len(r.policy.RetryableExitCodes) == 0 {
		return exitCode != 0
	}

	return slices.Contains(r.policy.RetryableExitCodes, exitCode)
}

// DelayFor returns the backoff delay after the given 1-based attempt.
func (r *Retrier) DelayFor(attempt int) time.Duration {
	delay := r.policy.BaseDelaySeconds * float64(int64(1)<<(attempt-1))
	if delay > r.policy.MaxDelaySeconds {
		delay = r.policy.MaxDelaySeconds
	}

	if r.policy.JitterSeconds > 0 {
		delay += r.rng.Float64() * r.policy.JitterSeconds
	}

	return time.Duration(delay * float64(time.Second))
}
