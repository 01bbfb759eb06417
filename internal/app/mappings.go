package app

import (
	"context"
	"fmt"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// PostMappingsOnce posts every Missing or PostFailed mapping of the
// provider in one request. Translations the backend resolves immediately
// are approved right away.
func (p *Pipeline) PostMappingsOnce(ctx context.Context) (bool, error) {
	pending, err := p.store.ListMappingsForPosting(ctx, p.config().ProviderDhsCode)
	if err != nil {
		return false, fmt.Errorf("list mappings: %w", err)
	}
	if len(pending) == 0 {
		return false, nil
	}
	ids := make([]int64, len(pending))
	for i, m := range pending {
		ids[i] = m.ID
	}

	resolved, postErr := p.poster.PostMissingMappings(ctx, p.config().ProviderDhsCode, pending)

	wctx := context.WithoutCancel(ctx)
	now := p.now()
	if postErr != nil {
		if err := p.store.MarkMappingsPostFailed(wctx, ids, postErr.Error(), now); err != nil {
			return false, fmt.Errorf("mark mappings failed: %w", err)
		}
		metrics.MappingsPosted.WithLabelValues("failed").Add(float64(len(ids)))
		return false, fmt.Errorf("post mappings: %w", postErr)
	}

	if err := p.store.MarkMappingsPosted(wctx, ids, now); err != nil {
		return false, fmt.Errorf("mark mappings posted: %w", err)
	}
	metrics.MappingsPosted.WithLabelValues("posted").Add(float64(len(ids)))

	for _, m := range resolved {
		if m.Key.ProviderDhsCode == "" {
			m.Key.ProviderDhsCode = p.config().ProviderDhsCode
		}
		if err := p.store.ApproveMapping(wctx, m.Key, m.DomainName, m.TargetValue, now); err != nil {
			return true, fmt.Errorf("approve mapping %q: %w", m.Key.SourceValue, err)
		}
	}

	p.logger.Info("posted missing mappings",
		ports.Int("posted", len(ids)),
		ports.Int("approved", len(resolved)),
	)
	p.report(domain.ProgressReport{
		WorkerID:  WorkerMappings,
		Message:   fmt.Sprintf("posted %d mappings, %d approved", len(ids), len(resolved)),
		Processed: intPtr(len(ids)),
		Total:     intPtr(len(pending)),
	})
	return true, nil
}
