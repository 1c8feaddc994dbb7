package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnection delays: min(Base * 2^attempt, Max) with
// uniform jitter of ±Jitter applied on top.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// rand returns a value in [0, 1). Nil uses math/rand/v2.
	rand func() float64
}

// NewBackoff creates a Backoff from manager settings.
func NewBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return Backoff{Base: base, Max: max, Jitter: jitter}
}

// BaseDelay returns the un-jittered delay for the given number of consecutive
// failed attempts since the last successful connection.
func (b Backoff) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		// Doubling past Max (or overflowing) saturates.
		if d >= b.Max || d > b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Delay returns BaseDelay(attempt) with jitter applied.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.BaseDelay(attempt)
	if b.Jitter == 0 {
		return d
	}
	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	factor := 1 + b.Jitter*(2*r()-1)
	return time.Duration(float64(d) * factor)
}
