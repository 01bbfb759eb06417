package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
	"github.com/bft-labs/claimship/internal/ports"
)

// sendPass describes one kind of lease-and-send cycle.
type sendPass struct {
	worker   string
	holder   domain.LeaseHolder
	eligible domain.EnqueueStatus
	retryDue bool
	dispatch domain.DispatchType
}

var (
	normalPass  = sendPass{worker: WorkerSend, holder: domain.HolderSender, eligible: domain.EnqueueNotSent, dispatch: domain.DispatchNormalSend}
	retryPass   = sendPass{worker: WorkerRetry, holder: domain.HolderRetry, eligible: domain.EnqueueFailed, retryDue: true, dispatch: domain.DispatchRetrySend}
	requeuePass = sendPass{worker: WorkerRequeue, holder: domain.HolderRequeue, eligible: domain.EnqueueEnqueued, dispatch: domain.DispatchRequeueIncomplete}
)

// batchGroup is the leased Claims of one batch.
type batchGroup struct {
	batchID int64
	keys    []domain.ClaimKey
}

// claimFailure is one Claim to mark Failed with its own message.
type claimFailure struct {
	key domain.ClaimKey
	msg string
}

// SendOnce leases NotSent Claims and sends them as NormalSend dispatches.
func (p *Pipeline) SendOnce(ctx context.Context) (bool, error) {
	return p.leaseAndSend(ctx, normalPass)
}

// RetryOnce leases due Failed Claims and sends them as RetrySend dispatches.
// Claims whose retry policy is exhausted are left for an operator.
func (p *Pipeline) RetryOnce(ctx context.Context) (bool, error) {
	return p.leaseAndSend(ctx, retryPass)
}

func (p *Pipeline) leaseAndSend(ctx context.Context, pass sendPass) (bool, error) {
	cfg := p.config()
	now := p.now()
	req := domain.LeaseRequest{
		ProviderDhsCode: cfg.ProviderDhsCode,
		Holder:          pass.holder,
		Now:             now,
		LeaseUntil:      now.Add(cfg.LeaseDuration),
		Take:            cfg.Take,
		Eligible:        []domain.EnqueueStatus{pass.eligible},
		RequireRetryDue: pass.retryDue,
		SkipUnscheduled: pass.retryDue,
	}

	keys, err := p.store.Lease(ctx, req)
	if err != nil {
		return false, fmt.Errorf("lease: %w", err)
	}
	if len(keys) == 0 {
		return false, nil
	}
	metrics.ClaimsLeased.WithLabelValues(pass.holder.String()).Add(float64(len(keys)))

	groups, orphans, err := p.groupByBatch(ctx, keys)
	if err != nil {
		p.release(ctx, pass.holder, keys)
		return false, err
	}
	if len(orphans) > 0 {
		failures := make([]claimFailure, len(orphans))
		for i, k := range orphans {
			failures[i] = claimFailure{key: k, msg: "claim is not assigned to a batch"}
		}
		if err := p.failClaims(ctx, failures, false); err != nil {
			// Release skips rows that were already settled.
			p.release(ctx, pass.holder, keys)
			return false, err
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		started int
	)
	for _, g := range groups {
		if !p.batches.Register(g.batchID) {
			p.logger.Debug("batch busy, releasing lease",
				ports.Worker(pass.worker),
				ports.BatchID(g.batchID),
			)
			p.release(ctx, pass.holder, g.keys)
			continue
		}

		g := g
		wg.Add(1)
		// The caller waits for every group, so its ctx governs the send.
		err := p.pool.Submit(ctx, func(context.Context) {
			defer wg.Done()
			defer p.batches.Unregister(g.batchID)
			if err := p.sendGroup(ctx, pass, g); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("batch %d: %w", g.batchID, err))
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			p.batches.Unregister(g.batchID)
			p.release(ctx, pass.holder, g.keys)
			errs = append(errs, err)
			continue
		}
		started++
	}
	wg.Wait()

	return started > 0 || len(orphans) > 0, errors.Join(errs...)
}

// groupByBatch splits keys by BatchID in ascending batch order. Claims
// without a batch are returned as orphans.
func (p *Pipeline) groupByBatch(ctx context.Context, keys []domain.ClaimKey) ([]batchGroup, []domain.ClaimKey, error) {
	byBatch := make(map[int64][]domain.ClaimKey)
	var orphans []domain.ClaimKey
	for _, k := range keys {
		c, err := p.store.GetClaim(ctx, k)
		if err != nil {
			return nil, nil, fmt.Errorf("load claim %s: %w", k, err)
		}
		if c.BatchID == nil {
			orphans = append(orphans, k)
			continue
		}
		byBatch[*c.BatchID] = append(byBatch[*c.BatchID], k)
	}

	groups := make([]batchGroup, 0, len(byBatch))
	for id, ks := range byBatch {
		groups = append(groups, batchGroup{batchID: id, keys: ks})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].batchID < groups[j].batchID })
	return groups, orphans, nil
}

// release hands keys back. It runs detached from ctx so a shutdown can
// still return its leases.
func (p *Pipeline) release(ctx context.Context, holder domain.LeaseHolder, keys []domain.ClaimKey) {
	if len(keys) == 0 {
		return
	}
	if err := p.store.Release(context.WithoutCancel(ctx), holder, keys, p.now()); err != nil {
		p.logger.Error("failed to release leases, recovery will restore them",
			ports.Holder(holder),
			ports.Claims(len(keys)),
			ports.Err(err),
		)
		return
	}
	metrics.ClaimsReleased.WithLabelValues(holder.String()).Add(float64(len(keys)))
}

// sendGroup sends one batch's leased Claims as a single dispatch. Until the
// request leaves, any failure or cancellation releases the lease. Once it
// has left, the outcome is recorded even if ctx is canceled.
func (p *Pipeline) sendGroup(ctx context.Context, pass sendPass, g batchGroup) error {
	abort := func(err error) error {
		p.release(ctx, pass.holder, g.keys)
		return err
	}

	now := p.now()
	batch, err := p.store.GetBatch(ctx, g.batchID)
	if err != nil {
		return abort(fmt.Errorf("load batch: %w", err))
	}
	if batch.Status == domain.BatchReady || batch.Status == domain.BatchHasResume {
		if err := p.store.UpdateBatchStatus(ctx, batch.ID, domain.BatchSending, nil, "", now); err != nil {
			return abort(fmt.Errorf("mark batch sending: %w", err))
		}
		batch.Status = domain.BatchSending
	}

	if batch.BcrID == "" {
		counts, err := p.store.BatchCounts(ctx, batch.ID)
		if err != nil {
			return abort(fmt.Errorf("count batch: %w", err))
		}
		bcrID, err := p.backend.CreateBatch(ctx, batch, counts.Total)
		if err != nil {
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			return p.failAttempt(ctx, pass, g.keys, fmt.Sprintf("create batch: %v", err))
		}
		if err := p.store.SetBatchBcrID(ctx, batch.ID, bcrID, now); err != nil {
			return abort(fmt.Errorf("store bcr id: %w", err))
		}
		batch.BcrID = bcrID
	}

	claims, missing, err := p.loadPayloads(ctx, g.keys)
	if err != nil {
		return abort(err)
	}
	if len(missing) > 0 {
		if err := p.failClaims(ctx, missing, false); err != nil {
			return abort(err)
		}
	}
	if len(claims) == 0 {
		return nil
	}
	keys := make([]domain.ClaimKey, len(claims))
	for i, c := range claims {
		keys[i] = c.Key
	}

	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	d, err := p.store.CreateDispatch(ctx, domain.Dispatch{
		ProviderDhsCode: p.config().ProviderDhsCode,
		BatchID:         batch.ID,
		BcrID:           batch.BcrID,
		Type:            pass.dispatch,
		CreatedUtc:      now,
	}, keys)
	if err != nil {
		return abort(fmt.Errorf("create dispatch: %w", err))
	}
	if err := p.store.MarkDispatchInFlight(ctx, d.ID, now); err != nil {
		return abort(fmt.Errorf("mark dispatch in flight: %w", err))
	}
	if err := p.store.IncrementAttempt(ctx, keys, now); err != nil {
		return abort(fmt.Errorf("count attempt: %w", err))
	}

	start := time.Now()
	res, sendErr := p.backend.SendClaims(ctx, ports.SendRequest{
		DispatchID:      d.ID,
		ProviderDhsCode: p.config().ProviderDhsCode,
		BatchID:         batch.ID,
		BcrID:           batch.BcrID,
		Type:            pass.dispatch,
		Claims:          claims,
	})
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	// The request has left. Record the outcome even if ctx is gone.
	wctx := context.WithoutCancel(ctx)
	now = p.now()
	succeeded, failed, result := outcome(keys, res, sendErr)

	if err := p.store.CompleteDispatch(wctx, d.ID, result, now); err != nil {
		return fmt.Errorf("complete dispatch: %w", err)
	}
	status := result.Status
	if status == domain.DispatchReady {
		status = domain.StatusFromOutcomes(result.Items)
	}
	metrics.Dispatches.WithLabelValues(pass.dispatch.String(), status.String()).Inc()

	if len(succeeded) > 0 {
		if err := p.store.MarkEnqueued(wctx, succeeded, batch.BcrID, now); err != nil {
			return fmt.Errorf("mark enqueued: %w", err)
		}
		metrics.ClaimsEnqueued.Add(float64(len(succeeded)))
	}
	if len(failed) > 0 {
		if err := p.failClaims(wctx, failed, true); err != nil {
			return err
		}
		delay := p.policy.NextDelay(p.maxAttempt(wctx, failed))
		if err := p.store.ScheduleDispatchRetry(wctx, d.ID, now, delay); err != nil {
			return fmt.Errorf("schedule dispatch retry: %w", err)
		}
	}

	p.logger.Info("dispatch completed",
		ports.Worker(pass.worker),
		ports.String("dispatch_id", d.ID),
		ports.BatchID(batch.ID),
		ports.String("status", status.String()),
		ports.Int("succeeded", len(succeeded)),
		ports.Int("failed", len(failed)),
	)
	return p.settleBatch(wctx, pass, batch, len(succeeded), len(failed))
}

// outcome maps the backend answer to per-Claim results. A transport error
// or a rejected request fails every Claim. An accepted request without item
// detail succeeds every Claim; Claims missing from item detail fail.
func outcome(keys []domain.ClaimKey, res ports.SendResult, sendErr error) ([]domain.ClaimKey, []claimFailure, domain.DispatchResult) {
	result := domain.DispatchResult{
		HTTPStatusCode: res.StatusCode,
		CorrelationID:  res.CorrelationID,
	}

	if sendErr != nil || !res.Succeeded {
		msg := res.Error
		switch {
		case sendErr != nil:
			msg = sendErr.Error()
		case msg == "":
			msg = "backend rejected request with status " + strconv.Itoa(res.StatusCode)
		}
		result.Status = domain.DispatchFailed
		result.LastError = msg
		failed := make([]claimFailure, len(keys))
		for i, k := range keys {
			failed[i] = claimFailure{key: k, msg: msg}
			result.Items = append(result.Items, domain.ItemOutcome{Key: k, Result: domain.ItemFail, ErrorMessage: msg})
		}
		return nil, failed, result
	}

	byKey := make(map[domain.ClaimKey]domain.ItemOutcome, len(res.Items))
	for _, it := range res.Items {
		byKey[it.Key] = it
	}

	var (
		succeeded []domain.ClaimKey
		failed    []claimFailure
	)
	for _, k := range keys {
		it, ok := byKey[k]
		switch {
		case len(res.Items) == 0:
			it = domain.ItemOutcome{Key: k, Result: domain.ItemSuccess}
		case !ok || it.Result == domain.ItemUnknown:
			it = domain.ItemOutcome{Key: k, Result: domain.ItemFail, ErrorMessage: "no result returned for claim"}
		}
		result.Items = append(result.Items, it)
		if it.Result == domain.ItemSuccess {
			succeeded = append(succeeded, k)
		} else {
			failed = append(failed, claimFailure{key: k, msg: it.ErrorMessage})
		}
	}
	if len(failed) > 0 {
		result.LastError = fmt.Sprintf("%d of %d claims rejected", len(failed), len(keys))
	}
	return succeeded, failed, result
}

// loadPayloads reads the body of every key. A missing payload is a data
// error for that Claim, not for the group.
func (p *Pipeline) loadPayloads(ctx context.Context, keys []domain.ClaimKey) ([]ports.SendClaim, []claimFailure, error) {
	claims := make([]ports.SendClaim, 0, len(keys))
	var missing []claimFailure
	for _, k := range keys {
		pl, err := p.store.GetPayload(ctx, k)
		if errors.Is(err, domain.ErrNotFound) {
			missing = append(missing, claimFailure{key: k, msg: "claim payload is missing"})
			err := p.recordIssue(ctx, domain.ValidationIssue{
				ProviderDhsCode: k.ProviderDhsCode,
				ProIdClaim:      int64Ptr(k.ProIdClaim),
				IssueType:       "MissingPayload",
				Message:         "claim was staged without a payload",
				IsBlocking:      true,
			})
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load payload %s: %w", k, err)
		}
		claims = append(claims, ports.SendClaim{Key: k, Payload: pl.Payload})
	}
	return claims, missing, nil
}

// failAttempt counts an attempt for keys that never reached a dispatch and
// marks them Failed with the policy delay.
func (p *Pipeline) failAttempt(ctx context.Context, pass sendPass, keys []domain.ClaimKey, msg string) error {
	wctx := context.WithoutCancel(ctx)
	if err := p.store.IncrementAttempt(wctx, keys, p.now()); err != nil {
		p.release(ctx, pass.holder, keys)
		return fmt.Errorf("count attempt: %w", err)
	}
	failures := make([]claimFailure, len(keys))
	for i, k := range keys {
		failures[i] = claimFailure{key: k, msg: msg}
	}
	if err := p.failClaims(wctx, failures, true); err != nil {
		p.release(ctx, pass.holder, keys)
		return err
	}
	p.report(domain.ProgressReport{WorkerID: pass.worker, Message: msg, IsError: true})
	return nil
}

// failClaims marks Claims Failed. With retry set, each Claim gets the delay
// its attempt count earns under the policy; otherwise it waits for an
// operator. Claims sharing a message and delay are marked together.
func (p *Pipeline) failClaims(ctx context.Context, failures []claimFailure, retry bool) error {
	type bucket struct {
		msg     string
		attempt int
	}
	groups := make(map[bucket][]domain.ClaimKey)
	var order []bucket
	for _, f := range failures {
		b := bucket{msg: f.msg}
		if retry {
			c, err := p.store.GetClaim(ctx, f.key)
			if err != nil {
				return fmt.Errorf("load claim %s: %w", f.key, err)
			}
			b.attempt = c.AttemptCount
		}
		if _, ok := groups[b]; !ok {
			order = append(order, b)
		}
		groups[b] = append(groups[b], f.key)
	}

	now := p.now()
	for _, b := range order {
		var delay *time.Duration
		if retry {
			delay = p.policy.NextDelay(b.attempt)
		}
		if err := p.store.MarkFailed(ctx, groups[b], b.msg, now, delay); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		label := "scheduled"
		if delay == nil {
			label = "exhausted"
		}
		metrics.ClaimsFailed.WithLabelValues(label).Add(float64(len(groups[b])))
	}
	return nil
}

func (p *Pipeline) maxAttempt(ctx context.Context, failures []claimFailure) int {
	max := 0
	for _, f := range failures {
		c, err := p.store.GetClaim(ctx, f.key)
		if err == nil && c.AttemptCount > max {
			max = c.AttemptCount
		}
	}
	return max
}

// settleBatch records progress and closes the send phase of a batch once it
// has no NotSent or InFlight Claims left.
func (p *Pipeline) settleBatch(ctx context.Context, pass sendPass, batch domain.Batch, sent, failed int) error {
	now := p.now()
	counts, err := p.store.BatchCounts(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("count batch: %w", err)
	}
	if err := p.store.UpdateBatchProgress(ctx, batch.ID, counts.Enqueued, counts.Total, now); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	pending := counts.Total - counts.Enqueued - counts.Failed
	if batch.Status == domain.BatchSending && pending == 0 {
		lastError := ""
		if counts.Failed > 0 {
			lastError = fmt.Sprintf("%d claims failed", counts.Failed)
		}
		hasResume := false
		if err := p.store.UpdateBatchStatus(ctx, batch.ID, domain.BatchEnqueued, &hasResume, lastError, now); err != nil {
			return fmt.Errorf("mark batch enqueued: %w", err)
		}
	}

	pct := 100.0
	if counts.Total > 0 {
		pct = 55 + float64(counts.Enqueued)/float64(counts.Total)*45
	}
	p.report(domain.ProgressReport{
		WorkerID:   pass.worker,
		Message:    fmt.Sprintf("sent %d claims, %d failed", sent, failed),
		Percentage: floatPtr(pct),
		IsError:    failed > 0 && sent == 0,
		BatchID:    int64Ptr(batch.ID),
		Processed:  intPtr(counts.Enqueued),
		Total:      intPtr(counts.Total),
		BcrID:      batch.BcrID,
	})
	return nil
}

// recordIssue stores an operator-facing data issue.
func (p *Pipeline) recordIssue(ctx context.Context, issue domain.ValidationIssue) error {
	if issue.CreatedUtc.IsZero() {
		issue.CreatedUtc = p.now()
	}
	if _, err := p.store.RecordValidationIssue(ctx, issue); err != nil {
		return fmt.Errorf("record %s issue: %w", issue.IssueType, err)
	}
	p.logger.Warn("validation issue recorded",
		ports.String("type", issue.IssueType),
		ports.Provider(issue.ProviderDhsCode),
		ports.String("message", issue.Message),
	)
	return nil
}
