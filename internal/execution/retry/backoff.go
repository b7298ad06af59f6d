package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff is capped exponential backoff with additive jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    time.Duration
	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns 500ms base, 30s cap, 250ms jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Jitter:    250 * time.Millisecond,
	}
}

// ComputeDelay returns the wait before attempt. The first attempt never waits;
// later attempts wait min(MaxDelay, BaseDelay*2^(attempt-1)) plus up to Jitter.
func (b Backoff) ComputeDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return b.exponential(attempt) + b.jitter()
}

func (b Backoff) exponential(attempt int) time.Duration {
	if b.BaseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift >= 62 {
		return b.MaxDelay
	}
	d := b.BaseDelay << shift
	if d <= 0 || d/b.BaseDelay != 1<<shift || (b.MaxDelay > 0 && d > b.MaxDelay) {
		return b.MaxDelay
	}
	return d
}

func (b Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	r := b.Rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(r() * float64(b.Jitter+1))
}
