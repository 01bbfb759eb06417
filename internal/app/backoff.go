package app

import (
	"context"
	"math/rand"
	"time"
)

// Default idle backoff values. A loop that finds no work waits
// DefaultIdleInitial, doubling up to DefaultIdleMax.
const (
	DefaultIdleInitial = 5 * time.Second
	DefaultIdleMax     = 60 * time.Second
)

// idleBackoff spaces out polls of a loop that keeps finding nothing to do.
// It is owned by a single loop and is not safe for concurrent use.
type idleBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newIdleBackoff(initial, max time.Duration) *idleBackoff {
	if initial <= 0 {
		initial = DefaultIdleInitial
	}
	if max < initial {
		max = initial
	}
	return &idleBackoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// next returns the jittered wait (±20%) and doubles the base for next time.
func (b *idleBackoff) next() time.Duration {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	wait := time.Duration(float64(b.current) + jitter)

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return wait
}

// Wait blocks for the next backoff interval or until ctx is done.
func (b *idleBackoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.next())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset resets the backoff to the initial duration.
func (b *idleBackoff) Reset() {
	b.current = b.initial
}

// Current returns the current base duration.
func (b *idleBackoff) Current() time.Duration {
	return b.current
}
