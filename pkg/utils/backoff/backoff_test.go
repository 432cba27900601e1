package backoff_test

import (
	"context"
	"testing"
	"time"

	"judgecore/pkg/utils/backoff"
)

func TestCompute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		retryCount int
		base       time.Duration
		max        time.Duration
		want       time.Duration
	}{
		{name: "base", retryCount: 0, base: time.Second, max: 30 * time.Second, want: time.Second},
		{name: "double", retryCount: 1, base: time.Second, max: 30 * time.Second, want: 2 * time.Second},
		{name: "quad", retryCount: 2, base: time.Second, max: 30 * time.Second, want: 4 * time.Second},
		{name: "capped", retryCount: 10, base: time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{name: "fixed when max equals base", retryCount: 7, base: time.Second, max: time.Second, want: time.Second},
		{name: "fixed when max below base", retryCount: 3, base: time.Second, max: 500 * time.Millisecond, want: time.Second},
		{name: "uncapped", retryCount: 3, base: time.Second, max: 0, want: 8 * time.Second},
		{name: "no-base", retryCount: 3, base: 0, max: 30 * time.Second, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := backoff.Compute(tt.retryCount, tt.base, tt.max); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestComputeIsNonDecreasing(t *testing.T) {
	t.Parallel()
	prev := time.Duration(0)
	for i := 0; i < 80; i++ {
		d := backoff.Compute(i, 250*time.Millisecond, 8*time.Second)
		if d < prev {
			t.Fatalf("delay decreased at retry %d: %s < %s", i, d, prev)
		}
		if d > 8*time.Second {
			t.Fatalf("delay exceeded cap at retry %d: %s", i, d)
		}
		prev = d
	}
}

func TestComputeUncappedDoesNotOverflow(t *testing.T) {
	t.Parallel()
	if d := backoff.Compute(200, time.Second, 0); d <= 0 {
		t.Fatalf("expected positive delay, got %s", d)
	}
}

func TestSleepObservesCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := backoff.Sleep(ctx, time.Minute); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly")
	}
}
