// Package retry provides bounded exponential backoff with jitter.
// This is part of the platform layer and contains no business logic.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Backoff describes a delay schedule: Base * Factor^attempt, clamped to Max,
// plus a uniform additive jitter in [0, Jitter].
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand.Float64.
	Rand func() float64
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(factor, float64(attempt)))
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		d += time.Duration(rnd() * float64(b.Jitter))
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn up to attempts times. It stops early on success, on an error
// for which retryable returns false, or when ctx is done. The last error is returned.
func Do(ctx context.Context, attempts int, b Backoff, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}
		if err := Sleep(ctx, b.Delay(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}
