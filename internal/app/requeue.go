package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// RequeueOnce resends the incomplete Claims of every batch flagged
// HasResume. The backend's resume status marks finished Claims Completed
// first; whatever is still Enqueued and incomplete goes out again as a
// RequeueIncomplete dispatch.
func (p *Pipeline) RequeueOnce(ctx context.Context) (bool, error) {
	batches, err := p.store.ListBatchesByStatus(ctx, p.config().ProviderDhsCode, domain.BatchHasResume)
	if err != nil {
		return false, fmt.Errorf("list resumable batches: %w", err)
	}

	worked := false
	var errs []error
	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		if b.BcrID == "" {
			p.logger.Warn("batch flagged for resume has no bcr id", ports.BatchID(b.ID))
			continue
		}
		if !p.batches.Register(b.ID) {
			continue
		}
		err := p.requeueBatch(ctx, b)
		p.batches.Unregister(b.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", b.ID, err))
			continue
		}
		worked = true
	}
	return worked, errors.Join(errs...)
}

func (p *Pipeline) requeueBatch(ctx context.Context, b domain.Batch) error {
	rs, err := p.backend.ResumeStatus(ctx, b.BcrID)
	if err != nil {
		return fmt.Errorf("resume status: %w", err)
	}

	members, err := p.store.ListClaimsByBatch(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("list batch claims: %w", err)
	}
	inBatch := make(map[int64]domain.ClaimKey, len(members))
	for _, k := range members {
		inBatch[k.ProIdClaim] = k
	}

	var completed []domain.ClaimKey
	for _, id := range rs.Completed {
		if k, ok := inBatch[id]; ok {
			completed = append(completed, k)
		}
	}
	now := p.now()
	if len(completed) > 0 {
		if err := p.store.SetCompletionStatus(ctx, completed, domain.CompletionCompleted, now); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
	}

	// One lease covers the whole batch so a re-enqueued Claim is never
	// picked up twice in the same resume.
	batchID := b.ID
	keys, err := p.store.Lease(ctx, domain.LeaseRequest{
		ProviderDhsCode: p.config().ProviderDhsCode,
		Holder:          domain.HolderRequeue,
		Now:             now,
		LeaseUntil:      now.Add(p.config().LeaseDuration),
		Take:            len(members),
		Eligible:        []domain.EnqueueStatus{domain.EnqueueEnqueued},
		BatchID:         &batchID,
		OnlyIncomplete:  true,
	})
	if err != nil {
		return fmt.Errorf("lease: %w", err)
	}

	if len(keys) == 0 {
		hasResume := false
		status := domain.BatchEnqueued
		if len(rs.Incomplete) == 0 {
			status = domain.BatchCompleted
		}
		if err := p.store.UpdateBatchStatus(ctx, b.ID, status, &hasResume, "", now); err != nil {
			return fmt.Errorf("close resume: %w", err)
		}
		p.report(domain.ProgressReport{
			WorkerID:   WorkerRequeue,
			Message:    "nothing left to requeue",
			Percentage: floatPtr(100),
			BatchID:    int64Ptr(b.ID),
			BcrID:      b.BcrID,
		})
		return nil
	}
	metrics.ClaimsLeased.WithLabelValues(domain.HolderRequeue.String()).Add(float64(len(keys)))

	return p.sendGroup(ctx, requeuePass, batchGroup{batchID: b.ID, keys: keys})
}
