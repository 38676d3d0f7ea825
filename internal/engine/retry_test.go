package engine

import (
	"testing"
	"time"

	"pipeline/internal/pipeline"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func TestShouldRetry_AttemptBound(t *testing.T) {
	t.Parallel()

	r := NewRetrier(pipeline.RetryPolicy{MaxAttempts: 3, BaseDelaySeconds: 0.5, MaxDelaySeconds: 30})

	if !r.ShouldRetry(1, 1) {
		t.Error("attempt 1/3 with non-zero exit should retry")
	}

	if !r.ShouldRetry(2, 1) {
		t.Error("attempt 2/3 with non-zero exit should retry")
	}

	if r.ShouldRetry(3, 1) {
		t.Error("attempt 3/3 must not retry")
	}
}

func TestShouldRetry_ExitCodeSet(t *testing.T) {
	t.Parallel()

	r := NewRetrier(pipeline.RetryPolicy{
		MaxAttempts:        5,
		BaseDelaySeconds:   0.5,
		MaxDelaySeconds:    30,
		RetryableExitCodes: []int{75, 111},
	})

	if !r.ShouldRetry(1, 75) {
		t.Error("listed exit code should retry")
	}

	if r.ShouldRetry(1, 1) {
		t.Error("unlisted exit code must not retry")
	}
}

func TestShouldRetry_EmptySetMeansAnyNonZero(t *testing.T) {
	t.Parallel()

	r := NewRetrier(pipeline.RetryPolicy{MaxAttempts: 2, BaseDelaySeconds: 0.5, MaxDelaySeconds: 30})

	if !r.ShouldRetry(1, 42) {
		t.Error("any non-zero exit should retry with empty set")
	}

	if r.ShouldRetry(1, 0) {
		t.Error("exit 0 is not retryable")
	}
}

func TestDelayFor_ExponentialWithCap(t *testing.T) {
	t.Parallel()

	r := NewRetrier(pipeline.RetryPolicy{
		MaxAttempts:      10,
		BaseDelaySeconds: 1,
		MaxDelaySeconds:  4,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
		{8, 4 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := r.DelayFor(tt.attempt); got != tt.want {
			t.Errorf("DelayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelayFor_JitterBoundsAndDeterminism(t *testing.T) {
	t.Parallel()

	policy := pipeline.RetryPolicy{
		MaxAttempts:      3,
		BaseDelaySeconds: 1,
		MaxDelaySeconds:  30,
		JitterSeconds:    0.5,
		Seed:             int64Ptr(7),
	}

	r1 := NewRetrier(policy)
	r2 := NewRetrier(policy)

	for attempt := 1; attempt <= 3; attempt++ {
		d1 := r1.DelayFor(attempt)
		d2 := r2.DelayFor(attempt)

		if d1 != d2 {
			t.Errorf("attempt %d: same seed gave %v and %v", attempt, d1, d2)
		}

		base := time.Duration(1<<(attempt-1)) * time.Second
		if d1 < base || d1 > base+500*time.Millisecond {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d1, base, base+500*time.Millisecond)
		}
	}
}
