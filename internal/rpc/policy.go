package rpc

import (
	"math"
	"math/rand"
	"time"
)

// ReconnectPolicy is pure configuration for the exponential backoff used by
// the reconnect loop.
type ReconnectPolicy struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// MaxAttempts bounds the number of retries after the initial
	// attempt; zero means retry forever.
	MaxAttempts int
}

// DefaultReconnectPolicy matches the documented defaults: 1s initial, 30s
// cap, doubling, 10% jitter, unbounded retries.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// DelayForAttempt returns min(initial*multiplier^attempt, max) plus a
// uniform jitter draw in [-delay*jitter, +delay*jitter], floored at zero.
// attempt starts at 0 and increments only after a retriable failure.
func (p ReconnectPolicy) DelayForAttempt(attempt int) time.Duration {
	base := p.InitialDelay.Seconds() * math.Pow(p.Multiplier, float64(attempt))
	capped := math.Min(base, p.MaxDelay.Seconds())

	jitterRange := capped * p.JitterFraction
	var jitter float64
	if jitterRange > 0 {
		jitter = rand.Float64()*2*jitterRange - jitterRange
	}
	final := math.Max(capped+jitter, 0)

	return time.Duration(final * float64(time.Second))
}
