package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/internal/domain"
)

func TestUpsertStagedClaim_Insert(t *testing.T) {
	s := createTestStore(t)
	batchID := stageClaims(t, s, 100)

	c := mustClaim(t, s, 100)
	assert.Equal(t, domain.EnqueueNotSent, c.EnqueueStatus)
	assert.Equal(t, domain.CompletionUnknown, c.CompletionStatus)
	assert.Equal(t, "C1", c.CompanyCode)
	assert.Equal(t, "202403", c.MonthKey)
	require.NotNil(t, c.BatchID)
	assert.Equal(t, batchID, *c.BatchID)
	assert.Zero(t, c.AttemptCount)
	assert.True(t, c.FirstSeenUtc.Equal(t0))
}

func TestUpsertStagedClaim_Restage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	batchID := stageClaims(t, s, 1, 2, 3)

	sent := mustLease(t, s, leaseReq(domain.HolderSender, t0, 1, domain.EnqueueNotSent))
	require.NoError(t, s.MarkEnqueued(ctx, sent, "BCR-1", t0))
	require.NoError(t, s.SetCompletionStatus(ctx, sent, domain.CompletionCompleted, t0))
	failClaims(t, s, t0, nil, 2)

	other := int64(999)
	later := t0.Add(time.Hour)
	for _, id := range []int64{1, 2} {
		require.NoError(t, s.UpsertStagedClaim(ctx, domain.StageClaim{
			Key: key(id), CompanyCode: "C1", MonthKey: "209912", BatchID: &other, BcrID: "BCR-X",
		}, later))
	}

	c1 := mustClaim(t, s, 1)
	assert.Equal(t, domain.EnqueueEnqueued, c1.EnqueueStatus, "enqueued is kept")
	assert.Equal(t, domain.CompletionCompleted, c1.CompletionStatus, "completed is kept")
	assert.Equal(t, "BCR-1", c1.BcrID)
	assert.Equal(t, "202403", c1.MonthKey)
	assert.Equal(t, batchID, *c1.BatchID)

	c2 := mustClaim(t, s, 2)
	assert.Equal(t, domain.EnqueueNotSent, c2.EnqueueStatus, "failed is reset")
	assert.True(t, c2.LastUpdatedUtc.Equal(later))
	assert.True(t, c2.FirstSeenUtc.Equal(t0))
}

func TestUpsertStagedClaim_KeepsLease(t *testing.T) {
	s := createTestStore(t)
	stageClaims(t, s, 1)
	mustLease(t, s, leaseReq(domain.HolderSender, t0, 1, domain.EnqueueNotSent))

	stageClaims(t, s, 1)

	c := mustClaim(t, s, 1)
	assert.Equal(t, domain.EnqueueInFlight, c.EnqueueStatus)
	assert.Equal(t, "Sender", c.LockedBy)
}

func TestGetClaim_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetClaim(context.Background(), key(42))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarkEnqueued_ClearsLeaseAndKeepsAttempts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	stageClaims(t, s, 1, 2)

	got := mustLease(t, s, leaseReq(domain.HolderSender, t0, 2, domain.EnqueueNotSent))
	require.NoError(t, s.IncrementAttempt(ctx, got, t0))
	now := t0.Add(time.Second)
	require.NoError(t, s.MarkEnqueued(ctx, got, "BCR-7", now))

	for _, id := range []int64{1, 2} {
		c := mustClaim(t, s, id)
		assert.Equal(t, domain.EnqueueEnqueued, c.EnqueueStatus)
		assert.Empty(t, c.LockedBy)
		assert.Nil(t, c.InFlightUntilUtc)
		assert.Nil(t, c.NextRetryUtc)
		assert.Empty(t, c.LastError)
		assert.Equal(t, 1, c.AttemptCount)
		assert.Equal(t, "BCR-7", c.BcrID)
		require.NotNil(t, c.LastEnqueuedUtc)
		assert.True(t, c.LastEnqueuedUtc.Equal(now))
		assert.True(t, c.LastUpdatedUtc.Equal(now))
	}
}

func TestMarkFailed_SchedulesRetry(t *testing.T) {
	s := createTestStore(t)
	stageClaims(t, s, 1, 2)

	failClaims(t, s, t0, durationPtr(30*time.Second), 1)
	failClaims(t, s, t0, nil, 2)

	c1 := mustClaim(t, s, 1)
	assert.Equal(t, domain.EnqueueFailed, c1.EnqueueStatus)
	assert.Equal(t, "boom", c1.LastError)
	require.NotNil(t, c1.NextRetryUtc)
	assert.True(t, c1.NextRetryUtc.Equal(t0.Add(30*time.Second)))
	assert.Empty(t, c1.LockedBy)
	assert.False(t, c1.RetryDue(t0))

	c2 := mustClaim(t, s, 2)
	assert.Nil(t, c2.NextRetryUtc, "no delay leaves the claim for manual retry")
}

func TestMark_RejectsIllegalPredecessor(t *testing.T) {
	s := createTestStore(t)
	stageClaims(t, s, 1)

	err := s.MarkEnqueued(context.Background(), keys(1), "", t0)
	require.Error(t, err)
	assert.True(t, domain.IsIllegalTransition(err))

	var te *domain.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "NotSent", te.From)
	assert.Equal(t, "Enqueued", te.To)
}

func TestMark_UnknownKeyRollsBackBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	stageClaims(t, s, 1, 2)
	got := mustLease(t, s, leaseReq(domain.HolderSender, t0, 2, domain.EnqueueNotSent))

	err := s.MarkFailed(ctx, append(got, key(77)), "x", t0, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, id := range []int64{1, 2} {
		assert.Equal(t, domain.EnqueueInFlight, mustClaim(t, s, id).EnqueueStatus)
	}
}

func TestMark_AtomicWhenStoreFailsMidBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	stageClaims(t, s, 1, 2, 3)
	got := mustLease(t, s, leaseReq(domain.HolderSender, t0, 3, domain.EnqueueNotSent))

	_, err := s.DB().Exec(`
		CREATE TRIGGER fail_third BEFORE UPDATE OF EnqueueStatus ON Claim
		WHEN NEW.ProIdClaim = 3 AND NEW.EnqueueStatus = 2
		BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	require.NoError(t, err)

	err = s.MarkEnqueued(ctx, got, "BCR-1", t0)
	require.Error(t, err)

	for _, id := range []int64{1, 2, 3} {
		c := mustClaim(t, s, id)
		assert.Equal(t, domain.EnqueueInFlight, c.EnqueueStatus, "claim %d", id)
		assert.Empty(t, c.BcrID, "claim %d", id)
	}
}

func TestMark_RollsBackOnDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewWithDB(db)
	update := regexp.QuoteMeta("UPDATE Claim SET EnqueueStatus = ?")

	mock.ExpectBegin()
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.MarkFailed(context.Background(), keys(1, 2, 3), "timeout", t0, durationPtr(time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark failed")
	assert.Contains(t, err.Error(), "P1/3")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMark_CommitFailureIsReported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewWithDB(db)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE Claim SET AttemptCount").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = s.IncrementAttempt(context.Background(), keys(1), t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMark_EmptyBatchIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewWithDB(db)
	require.NoError(t, s.MarkEnqueued(context.Background(), nil, "", t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleManualRetry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	stageClaims(t, s, 1, 2)
	failClaims(t, s, t0, nil, 1)

	now := t0.Add(time.Hour)
	require.NoError(t, s.ScheduleManualRetry(ctx, keys(1), now))

	c := mustClaim(t, s, 1)
	require.NotNil(t, c.NextRetryUtc)
	assert.True(t, c.NextRetryUtc.Equal(now))
	assert.True(t, c.RetryDue(now))

	err := s.ScheduleManualRetry(ctx, keys(2), now)
	assert.True(t, domain.IsIllegalTransition(err), "only failed claims can be retried")
}

func TestCountClaimsByStatus(t *testing.T) {
	s := createTestStore(t)
	stageClaims(t, s, 1, 2, 3, 4)
	failClaims(t, s, t0, nil, 1)
	mustLease(t, s, leaseReq(domain.HolderSender, t0, 1, domain.EnqueueNotSent))

	counts, err := s.CountClaimsByStatus(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.EnqueueStatus]int{
		domain.EnqueueNotSent:  2,
		domain.EnqueueInFlight: 1,
		domain.EnqueueFailed:   1,
	}, counts)
}
