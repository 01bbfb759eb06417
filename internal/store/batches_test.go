package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/internal/domain"
)

func TestEnsureBatch_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	k := domain.BatchKey{ProviderDhsCode: "P1", CompanyCode: "C1", MonthKey: "202403"}

	id1, err := s.EnsureBatch(ctx, k, "PAY1", domain.BatchDraft, t0)
	require.NoError(t, err)
	id2, err := s.EnsureBatch(ctx, k, "PAY2", domain.BatchReady, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	b, err := s.FindBatch(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, id1, b.ID)
	assert.Equal(t, "PAY1", b.PayerCode)
	assert.Equal(t, domain.BatchDraft, b.Status, "ensure never moves status")
}

func TestUpdateBatchStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := stageClaims(t, s, 1)
	resume := true

	require.NoError(t, s.UpdateBatchStatus(ctx, id, domain.BatchReady, nil, "", t0))
	require.NoError(t, s.UpdateBatchStatus(ctx, id, domain.BatchSending, nil, "", t0))
	require.NoError(t, s.UpdateBatchStatus(ctx, id, domain.BatchEnqueued, nil, "", t0))
	require.NoError(t, s.UpdateBatchStatus(ctx, id, domain.BatchHasResume, &resume, "", t0))

	b, err := s.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchHasResume, b.Status)
	assert.True(t, b.HasResume)

	err = s.UpdateBatchStatus(ctx, id, domain.BatchDraft, nil, "", t0)
	assert.True(t, domain.IsIllegalTransition(err))

	require.NoError(t, s.UpdateBatchStatus(ctx, id, domain.BatchCompleted, nil, "", t0))
	require.NoError(t, s.UpdateBatchStatus(ctx, id, domain.BatchCompleted, nil, "late note", t0),
		"terminal batches accept annotations")

	b, err = s.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "late note", b.LastError)
	assert.True(t, b.HasResume, "nil resume flag keeps the stored value")

	err = s.UpdateBatchStatus(ctx, 999, domain.BatchReady, nil, "", t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetBatchBcrID_PropagatesToClaims(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := stageClaims(t, s, 1, 2)

	require.NoError(t, s.SetBatchBcrID(ctx, id, "BCR-9", t0))

	b, err := s.GetBatchByBcrID(ctx, "BCR-9")
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
	assert.Equal(t, "BCR-9", mustClaim(t, s, 2).BcrID)

	assert.ErrorIs(t, s.SetBatchBcrID(ctx, 404, "x", t0), domain.ErrNotFound)
}

func TestBatchProgressAndCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := stageClaims(t, s, 1, 2, 3, 4)

	sent := mustLease(t, s, leaseReq(domain.HolderSender, t0, 2, domain.EnqueueNotSent))
	require.NoError(t, s.MarkEnqueued(ctx, sent, "", t0))
	failClaims(t, s, t0, nil, 3)

	counts, err := s.BatchCounts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCounts{Total: 4, Enqueued: 2, Failed: 1}, counts)

	require.NoError(t, s.UpdateBatchProgress(ctx, id, 3, 4, t0))
	b, err := s.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, b.ProcessedCount)
	assert.Equal(t, 4, b.TotalCount)

	empty, err := s.BatchCounts(ctx, 12345)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestListBatchesByStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := stageClaims(t, s, 1)
	b, err := s.EnsureBatch(ctx, domain.BatchKey{ProviderDhsCode: "P1", CompanyCode: "C9", MonthKey: "202404"}, "", domain.BatchDraft, t0)
	require.NoError(t, err)
	require.NoError(t, s.UpdateBatchStatus(ctx, b, domain.BatchReady, nil, "", t0))

	drafts, err := s.ListBatchesByStatus(ctx, "P1", domain.BatchDraft)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, a, drafts[0].ID)

	none, err := s.ListBatchesByStatus(ctx, "P2", domain.BatchReady)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
