package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

// OperatorStore is the persistence surface of operator actions.
type OperatorStore interface {
	ScheduleManualRetry(ctx context.Context, keys []domain.ClaimKey, now time.Time) error
	GetBatch(ctx context.Context, id int64) (domain.Batch, error)
	UpdateBatchStatus(ctx context.Context, id int64, status domain.BatchStatus, hasResume *bool, lastError string, now time.Time) error
}

// Operator performs manual interventions for one provider. It works on the
// store alone, so it is usable whether or not a pipeline is running.
type Operator struct {
	store    OperatorStore
	provider string
	logger   ports.Logger
	now      func() time.Time
}

// NewOperator creates an operator. A nil now uses the wall clock in UTC.
func NewOperator(store OperatorStore, providerDhsCode string, logger ports.Logger, now func() time.Time) *Operator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Operator{store: store, provider: providerDhsCode, logger: logger, now: now}
}

// RetryClaims makes Failed claims immediately due again. It is the path for
// claims whose retry policy is exhausted.
func (o *Operator) RetryClaims(ctx context.Context, ids []int64) error {
	keys := make([]domain.ClaimKey, len(ids))
	for i, id := range ids {
		keys[i] = domain.ClaimKey{ProviderDhsCode: o.provider, ProIdClaim: id}
	}
	if err := o.store.ScheduleManualRetry(ctx, keys, o.now()); err != nil {
		return err
	}
	o.logger.Info("manual retry scheduled", ports.Claims(len(keys)))
	return nil
}

// RequestResume flags an Enqueued batch so the requeue loop resends the
// Claims the backend has not completed.
func (o *Operator) RequestResume(ctx context.Context, batchID int64) error {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Key.ProviderDhsCode != o.provider {
		return fmt.Errorf("%w: batch %d belongs to provider %s", domain.ErrNotFound, batchID, b.Key.ProviderDhsCode)
	}
	hasResume := true
	if err := o.store.UpdateBatchStatus(ctx, batchID, domain.BatchHasResume, &hasResume, "", o.now()); err != nil {
		return err
	}
	o.logger.Info("batch resume requested", ports.BatchID(batchID))
	return nil
}
