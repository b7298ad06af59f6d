package retry

import (
	"testing"
	"time"
)

func TestBackoff_ComputeDelay(t *testing.T) {
	b := Backoff{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  1 * time.Second,
		Rand:      func() float64 { return 0 },
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 0},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{40, 1 * time.Second},
		{100, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := b.ComputeDelay(tt.attempt); got != tt.want {
			t.Errorf("ComputeDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := Backoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: 50 * time.Millisecond}
	for range 200 {
		d := b.ComputeDelay(2)
		if d < 200*time.Millisecond || d > 250*time.Millisecond {
			t.Fatalf("delay %v outside [200ms, 250ms]", d)
		}
	}
}

func TestBackoff_NonDecreasingWithoutJitter(t *testing.T) {
	b := DefaultBackoff()
	b.Jitter = 0
	prev := time.Duration(0)
	for attempt := 1; attempt < 80; attempt++ {
		d := b.ComputeDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}
