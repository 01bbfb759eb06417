// Package recovery runs the startup crash recovery routine.
//
// The routine must complete before any worker leases a Claim. It is a thin
// fail-fast wrapper around [ports.RecoveryStore]: the store performs the
// sweep in one transaction, and any failure is reported as
// [domain.ErrRecoveryFailed] so that startup aborts instead of running on
// ambiguous state.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// Routine is the crash recovery routine.
type Routine struct {
	store  ports.RecoveryStore
	logger ports.Logger
	now    func() time.Time
}

// Option configures a Routine.
type Option func(*Routine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Routine) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a recovery routine.
func New(store ports.RecoveryStore, logger ports.Logger, opts ...Option) *Routine {
	r := &Routine{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the sweep once. The returned error wraps both
// domain.ErrRecoveryFailed and the storage error.
func (r *Routine) Run(ctx context.Context) (ports.RecoveryResult, error) {
	start := time.Now()
	now := r.now()

	res, err := r.store.RecoverAbandoned(ctx, now)
	if err != nil {
		r.logger.Error("crash recovery failed, aborting startup", ports.Err(err))
		return ports.RecoveryResult{}, fmt.Errorf("%w: %w", domain.ErrRecoveryFailed, err)
	}

	metrics.RecoveredClaims.Add(float64(res.RecoveredClaims))
	metrics.RecoveredDispatches.Add(float64(res.RecoveredDispatches))

	if res.RecoveredClaims > 0 || res.RecoveredDispatches > 0 {
		r.logger.Warn("recovered state from unclean shutdown",
			ports.Int64("claims", res.RecoveredClaims),
			ports.Int64("dispatches", res.RecoveredDispatches),
			ports.Duration("duration", time.Since(start)),
		)
	} else {
		r.logger.Info("crash recovery found nothing to repair",
			ports.Duration("duration", time.Since(start)),
		)
	}
	return res, nil
}
