package worker

import (
	"math/rand"
	"time"
)

// BackoffConfig controls the reconnect delay schedule: exponential growth
// from InitialDelay up to MaxDelay, with proportional jitter so a rack of
// cameras does not reconnect in lockstep.
//
// The growth factor and cap were not dictated by the upstream requirements;
// the defaults here are conventional and exposed as configuration.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier scales the delay per attempt (default 2.0)
	Multiplier float64
	// Jitter is the ± fraction applied to each delay (default 0.2)
	Jitter float64
}

// DefaultBackoffConfig returns the conventional schedule:
// 500ms, 1s, 2s, 4s, … capped at 30s, ±20% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Delay returns the backoff delay for a 1-based attempt number.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := c.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}

	d := float64(c.InitialDelay)
	max := float64(c.MaxDelay)
	for i := 1; i < attempt; i++ {
		d *= multiplier
		if max > 0 && d >= max {
			d = max
			break
		}
	}
	if max > 0 && d > max {
		d = max
	}

	if c.Jitter > 0 {
		d *= 1 + c.Jitter*(2*rand.Float64()-1)
		// Jitter may push past the cap; the cap is a hard bound
		if max > 0 && d > max {
			d = max
		}
	}
	return time.Duration(d)
}
