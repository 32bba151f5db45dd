package scheduler

import (
	"math"
	"time"
)

// BackoffPolicy defines exponential backoff after passes that made no progress.
type BackoffPolicy struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Factor   float64
}

// NextDelay returns the delay after the given number of consecutive total
// failures (1-based): MinDelay * Factor^(failures-1), clamped to MaxDelay.
func (p BackoffPolicy) NextDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 10 * time.Second
	}
	if p.Factor <= 1 {
		p.Factor = 2
	}

	delay := float64(p.MinDelay) * math.Pow(p.Factor, float64(failures-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
