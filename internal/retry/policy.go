// Package retry computes when a failed Claim, Dispatch or Attachment becomes
// eligible for another automatic attempt.
//
// The policy only produces a delay. Persisting the due time and honoring it
// in lease queries is the job of the entity stores.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Default policy values.
const (
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxDelay    = 30 * time.Minute
	DefaultMaxAttempts = 5
	DefaultJitter      = 0.2
)

const maxDuration = time.Duration(math.MaxInt64)

// Policy is an exponential backoff schedule with a cap and an attempt limit.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// Jitter is the relative spread applied to each delay, 0.2 meaning ±20%.
	Jitter float64

	mu   sync.Mutex
	rand *rand.Rand
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultBaseDelay, DefaultMaxDelay, DefaultMaxAttempts)
}

// NewPolicy creates a policy with the default jitter.
func NewPolicy(base, max time.Duration, maxAttempts int) *Policy {
	return &Policy{
		BaseDelay:   base,
		MaxDelay:    max,
		MaxAttempts: maxAttempts,
		Jitter:      DefaultJitter,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes the jitter reproducible.
func (p *Policy) WithSeed(seed int64) *Policy {
	p.mu.Lock()
	p.rand = rand.New(rand.NewSource(seed))
	p.mu.Unlock()
	return p
}

// Exhausted reports whether attempt has used up the automatic retries.
// A non-positive MaxAttempts never exhausts.
func (p *Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// Base returns the un-jittered delay for attempt: BaseDelay·2^(attempt-1),
// capped at MaxDelay. Without a MaxDelay the cap is the largest Duration.
func (p *Policy) Base(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	return p.clamp(exp)
}

// clamp converts d to a Duration no larger than the cap. The comparison
// happens in float64 so it cannot overflow.
func (p *Policy) clamp(d float64) time.Duration {
	limit := p.MaxDelay
	if limit <= 0 {
		limit = maxDuration
	}
	if math.IsNaN(d) || d >= float64(limit) {
		return limit
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// NextDelay returns the delay before the next attempt after attempt failures,
// or nil once the policy is exhausted. A nil delay is persisted as a null
// NextRetryUtc, which leaves the work for an operator.
func (p *Policy) NextDelay(attempt int) *time.Duration {
	if p.Exhausted(attempt) {
		return nil
	}
	d := p.jitter(p.Base(attempt))
	return &d
}

func (p *Policy) jitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	p.mu.Lock()
	if p.rand == nil {
		p.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	f := p.rand.Float64()*2 - 1
	p.mu.Unlock()

	return p.clamp(float64(d) + float64(d)*p.Jitter*f)
}
