package workflow

import (
	"fmt"
	"time"
)

// Backoff is a fixed increasing sequence of wait durations between successive
// poll attempts. Past the end of the sequence the last value holds, so a slow
// operation settles into a steady polling rate.
type Backoff []time.Duration

// DefaultBackoff mirrors the product's poll schedule: responsive early on,
// then easing off to one check per minute.
func DefaultBackoff() Backoff {
	return Backoff{
		10 * time.Second,
		15 * time.Second,
		20 * time.Second,
		30 * time.Second,
		60 * time.Second,
	}
}

// DelayFor returns the delay before the (n+1)th poll attempt. n counts
// completed attempts, so the first tick is scheduled with DelayFor(0).
func (b Backoff) DelayFor(n int) time.Duration {
	if len(b) == 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	if n >= len(b) {
		n = len(b) - 1
	}
	return b[n]
}

// Validate checks the sequence is non-empty, positive, and non-decreasing.
func (b Backoff) Validate() error {
	if len(b) == 0 {
		return fmt.Errorf("backoff sequence must not be empty")
	}
	var prev time.Duration
	for i, d := range b {
		if d <= 0 {
			return fmt.Errorf("backoff[%d] must be positive: %v", i, d)
		}
		if d < prev {
			return fmt.Errorf("backoff[%d] decreases: %v < %v", i, d, prev)
		}
		prev = d
	}
	return nil
}
