package api

import (
	"context"
	"testing"
	"time"
)

// fastBackoff keeps test sleeps in the low-millisecond range.
func fastBackoff(maxRetries int) *Backoff {
	return NewBackoffWithConfig(BackoffConfig{
		MaxRetries: maxRetries,
		DelayShift: 1,
		MaxDelay:   20 * time.Millisecond,
	})
}

func TestShouldRetryStopsAtMaxRetries(t *testing.T) {
	b := fastBackoff(3)
	ctx := context.Background()

	for attempt := 1; attempt < 3; attempt++ {
		if !b.ShouldRetry(ctx, attempt, ErrorClassServer) {
			t.Errorf("ShouldRetry(attempt=%d) = false, want true below the ceiling", attempt)
		}
	}
	if b.ShouldRetry(ctx, 3, ErrorClassServer) {
		t.Error("ShouldRetry(attempt=3) = true at the ceiling, want false")
	}
	if b.ShouldRetry(ctx, 10, ErrorClassServer) {
		t.Error("ShouldRetry(attempt=10) = true past the ceiling, want false")
	}
}

func TestShouldRetrySleepsBeforeReturning(t *testing.T) {
	b := fastBackoff(5)

	start := time.Now()
	if !b.ShouldRetry(context.Background(), 1, ErrorClassRateLimit) {
		t.Fatal("ShouldRetry(attempt=1) = false, want true")
	}
	// attempt 1 with shift 1 backs off at least 4ms before jitter.
	if elapsed := time.Since(start); elapsed < 4*time.Millisecond {
		t.Errorf("ShouldRetry returned after %v, want >= 4ms backoff", elapsed)
	}
}

func TestShouldRetryHonorsContextCancellation(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		MaxRetries: 5,
		DelayShift: 10,
		MaxDelay:   time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if b.ShouldRetry(ctx, 1, ErrorClassServer) {
		t.Error("ShouldRetry() = true with cancelled context, want false")
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("ShouldRetry slept %v under a cancelled context", elapsed)
	}
}

func TestDelayGrowsExponentiallyAndCaps(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		MaxRetries: 5,
		DelayShift: 1,
		MaxDelay:   100 * time.Millisecond,
	})

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Duration(1<<(uint(attempt)+1)) * time.Millisecond
		d := b.delay(attempt)
		if d < base {
			t.Errorf("delay(%d) = %v, want >= base %v", attempt, d, base)
		}
		if d > b.maxDelay {
			t.Errorf("delay(%d) = %v exceeds cap %v", attempt, d, b.maxDelay)
		}
		if d <= prev && base < b.maxDelay {
			t.Errorf("delay(%d) = %v did not grow past previous %v", attempt, d, prev)
		}
		prev = d
	}

	// Far past the cap the delay must clamp.
	if d := b.delay(20); d != b.maxDelay {
		t.Errorf("delay(20) = %v, want cap %v", d, b.maxDelay)
	}
}

func TestNewBackoffDefaults(t *testing.T) {
	b := NewBackoff(0)
	if b.MaxRetries() != DefaultMaxRetries {
		t.Errorf("MaxRetries() = %d, want %d", b.MaxRetries(), DefaultMaxRetries)
	}
	if b.shift != DefaultDelayShift {
		t.Errorf("shift = %d, want %d", b.shift, DefaultDelayShift)
	}
	if b.maxDelay != DefaultMaxDelay {
		t.Errorf("maxDelay = %v, want %v", b.maxDelay, DefaultMaxDelay)
	}
}
