package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// StageOnce takes one bundle from the extraction source, stages its Claims
// with their payloads and attachments, records what could not be staged,
// and moves the batch to Ready. The bundle is acknowledged only after
// everything is stored.
func (p *Pipeline) StageOnce(ctx context.Context) (bool, error) {
	bundle, err := p.source.Next(ctx)
	if errors.Is(err, ports.ErrNoBundle) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("next bundle: %w", err)
	}

	provider := p.config().ProviderDhsCode
	if bundle.Batch.ProviderDhsCode == "" {
		bundle.Batch.ProviderDhsCode = provider
	}
	if bundle.Batch.ProviderDhsCode != provider {
		err := p.recordIssue(ctx, domain.ValidationIssue{
			ProviderDhsCode: provider,
			IssueType:       "ForeignBundle",
			RawValue:        bundle.Batch.ProviderDhsCode,
			Message:         fmt.Sprintf("bundle %s belongs to another provider", bundle.ID),
			IsBlocking:      true,
		})
		if err != nil {
			return false, err
		}
		return true, p.ack(ctx, bundle)
	}

	now := p.now()
	batchID, err := p.store.EnsureBatch(ctx, bundle.Batch, bundle.PayerCode, domain.BatchDraft, now)
	if err != nil {
		return false, fmt.Errorf("ensure batch: %w", err)
	}

	staged := 0
	for _, c := range bundle.Claims {
		ok, err := p.stageClaim(ctx, bundle.Batch, batchID, c)
		if err != nil {
			return false, err
		}
		if ok {
			staged++
		}
	}

	for _, m := range bundle.MissingMappings {
		if m.Key.ProviderDhsCode == "" {
			m.Key.ProviderDhsCode = provider
		}
		if m.Key.CompanyCode == "" {
			m.Key.CompanyCode = bundle.Batch.CompanyCode
		}
		if err := p.store.RecordMissingMapping(ctx, m, now); err != nil {
			return false, fmt.Errorf("record missing mapping: %w", err)
		}
	}

	batch, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("load batch: %w", err)
	}
	if batch.Status == domain.BatchDraft {
		if err := p.store.UpdateBatchStatus(ctx, batchID, domain.BatchReady, nil, "", now); err != nil {
			return false, fmt.Errorf("mark batch ready: %w", err)
		}
	}
	counts, err := p.store.BatchCounts(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("count batch: %w", err)
	}
	if err := p.store.UpdateBatchProgress(ctx, batchID, counts.Enqueued, counts.Total, now); err != nil {
		return false, fmt.Errorf("update progress: %w", err)
	}

	if err := p.ack(ctx, bundle); err != nil {
		return false, err
	}
	metrics.ClaimsStaged.Add(float64(staged))

	p.logger.Info("bundle staged",
		ports.String("bundle", bundle.ID),
		ports.BatchID(batchID),
		ports.Int("staged", staged),
		ports.Int("rejected", len(bundle.Claims)-staged),
		ports.Int("missing_mappings", len(bundle.MissingMappings)),
	)
	p.report(domain.ProgressReport{
		WorkerID:   WorkerStage,
		Message:    fmt.Sprintf("staged %d claims", staged),
		Percentage: floatPtr(50),
		BatchID:    int64Ptr(batchID),
		Processed:  intPtr(staged),
		Total:      intPtr(len(bundle.Claims)),
	})
	return true, nil
}

// stageClaim returns false when the Claim was rejected as a data issue.
func (p *Pipeline) stageClaim(ctx context.Context, bk domain.BatchKey, batchID int64, c ports.BundleClaim) (bool, error) {
	issue := domain.ValidationIssue{ProviderDhsCode: bk.ProviderDhsCode, IsBlocking: true}
	if c.ProIdClaim <= 0 {
		issue.IssueType = "InvalidClaimId"
		issue.FieldPath = "ProIdClaim"
		issue.RawValue = fmt.Sprint(c.ProIdClaim)
		issue.Message = "claim id must be positive"
		return false, p.recordIssue(ctx, issue)
	}
	issue.ProIdClaim = int64Ptr(c.ProIdClaim)
	if len(c.Payload) == 0 {
		issue.IssueType = "EmptyPayload"
		issue.FieldPath = "Payload"
		issue.Message = "claim has no payload"
		return false, p.recordIssue(ctx, issue)
	}

	now := p.now()
	key := domain.ClaimKey{ProviderDhsCode: bk.ProviderDhsCode, ProIdClaim: c.ProIdClaim}
	err := p.store.UpsertStagedClaim(ctx, domain.StageClaim{
		Key:         key,
		CompanyCode: bk.CompanyCode,
		MonthKey:    bk.MonthKey,
		BatchID:     int64Ptr(batchID),
	}, now)
	if err != nil {
		return false, fmt.Errorf("stage claim %s: %w", key, err)
	}
	if err := p.store.UpsertPayload(ctx, key, c.Payload, now); err != nil {
		return false, fmt.Errorf("store payload %s: %w", key, err)
	}

	for _, a := range c.Attachments {
		a.Key = key
		err := p.store.UpsertAttachment(ctx, a)
		if errors.Is(err, domain.ErrAttachmentSource) {
			issue.IssueType = "AttachmentSource"
			issue.FieldPath = "Attachments"
			issue.RawValue = a.FileName
			issue.Message = err.Error()
			issue.IsBlocking = false
			if err := p.recordIssue(ctx, issue); err != nil {
				return false, err
			}
			continue
		}
		if err != nil {
			return false, fmt.Errorf("stage attachment %s: %w", key, err)
		}
	}
	return true, nil
}

func (p *Pipeline) ack(ctx context.Context, bundle ports.ClaimBundle) error {
	if err := p.source.Ack(ctx, bundle); err != nil {
		return fmt.Errorf("ack bundle %s: %w", bundle.ID, err)
	}
	return nil
}
