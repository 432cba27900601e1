// Package backoff computes capped doubling delays.
package backoff

import (
	"context"
	"math"
	"time"
)

// Compute returns base doubled retryCount times, capped at max.
// A max below base yields a fixed delay of base. The sequence never decreases.
func Compute(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max > 0 && max < base {
		max = base
	}
	if retryCount <= 0 {
		return base
	}
	limit := max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if delay > limit/2 {
			return limit
		}
		delay *= 2
	}
	return delay
}

// Sleep waits for d or until ctx is done, whichever comes first.
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
