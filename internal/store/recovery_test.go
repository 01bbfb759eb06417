package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

func TestRecoverAbandoned_RestoresByHolder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	stageClaims(t, s, 1, 2, 3)

	failClaims(t, s, t0, nil, 1)
	require.Len(t, mustLease(t, s, leaseReq(domain.HolderRetry, t0, 1, domain.EnqueueFailed)), 1)   // 1
	require.Len(t, mustLease(t, s, leaseReq(domain.HolderSender, t0, 1, domain.EnqueueNotSent)), 1) // 2

	sent := mustLease(t, s, leaseReq(domain.HolderSender, t0, 1, domain.EnqueueNotSent)) // 3
	require.NoError(t, s.MarkEnqueued(ctx, sent, "BCR-1", t0))
	require.Len(t, mustLease(t, s, leaseReq(domain.HolderRequeue, t0, 1, domain.EnqueueEnqueued)), 1) // 3

	res, err := s.RecoverAbandoned(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RecoveredClaims)

	tests := []struct {
		id   int64
		want domain.EnqueueStatus
	}{
		{1, domain.EnqueueFailed},
		{2, domain.EnqueueNotSent},
		{3, domain.EnqueueEnqueued},
	}
	for _, tt := range tests {
		c := mustClaim(t, s, tt.id)
		assert.Equal(t, tt.want, c.EnqueueStatus, "claim %d", tt.id)
		assert.Empty(t, c.LockedBy, "claim %d", tt.id)
		assert.Nil(t, c.InFlightUntilUtc, "claim %d", tt.id)
	}
}

func TestRecoverAbandoned_UnknownHolderFallback(t *testing.T) {
	s := createTestStore(t)
	stageClaims(t, s, 1, 2)
	mustLease(t, s, leaseReq(domain.HolderSender, t0, 2, domain.EnqueueNotSent))

	_, err := s.DB().Exec(`UPDATE Claim SET LockedBy = 'Scanner'`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`UPDATE Claim SET AttemptCount = 2 WHERE ProIdClaim = 2`)
	require.NoError(t, err)

	_, err = s.RecoverAbandoned(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, domain.EnqueueNotSent, mustClaim(t, s, 1).EnqueueStatus, "never attempted")
	assert.Equal(t, domain.EnqueueFailed, mustClaim(t, s, 2).EnqueueStatus, "attempted before")
}

func TestRecoverAbandoned_LeavesLiveLeases(t *testing.T) {
	s := createTestStore(t)
	stageClaims(t, s, 1)
	mustLease(t, s, leaseReq(domain.HolderSender, t0, 1, domain.EnqueueNotSent))

	res, err := s.RecoverAbandoned(context.Background(), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, res.RecoveredClaims)
	assert.Equal(t, domain.EnqueueInFlight, mustClaim(t, s, 1).EnqueueStatus)
}

func TestRecoverAbandoned_FailsStuckDispatches(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	batchID := stageClaims(t, s, 1, 2)

	var dispatchIDs []string
	for _, typ := range []domain.DispatchType{domain.DispatchNormalSend, domain.DispatchRetrySend, domain.DispatchRequeueIncomplete} {
		d, err := s.CreateDispatch(ctx, domain.Dispatch{ProviderDhsCode: "P1", BatchID: batchID, Type: typ, CreatedUtc: t0}, keys(1, 2))
		require.NoError(t, err)
		require.NoError(t, s.MarkDispatchInFlight(ctx, d.ID, t0))
		dispatchIDs = append(dispatchIDs, d.ID)
	}
	ready, err := s.CreateDispatch(ctx, domain.Dispatch{ProviderDhsCode: "P1", BatchID: batchID, Type: domain.DispatchNormalSend, CreatedUtc: t0}, keys(1))
	require.NoError(t, err)

	res, err := s.RecoverAbandoned(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RecoveredDispatches)

	for _, id := range dispatchIDs {
		d, err := s.GetDispatch(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.DispatchFailed, d.Status)
		assert.Equal(t, RestartDiagnostic, d.LastError)
	}

	d, err := s.GetDispatch(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchReady, d.Status)
}

func TestRecoverAbandoned_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	batchID := stageClaims(t, s, 1, 2, 3)
	mustLease(t, s, leaseReq(domain.HolderSender, t0, 3, domain.EnqueueNotSent))
	d, err := s.CreateDispatch(ctx, domain.Dispatch{ProviderDhsCode: "P1", BatchID: batchID, Type: domain.DispatchNormalSend, CreatedUtc: t0}, keys(1, 2, 3))
	require.NoError(t, err)
	require.NoError(t, s.MarkDispatchInFlight(ctx, d.ID, t0))

	now := t0.Add(time.Hour)
	first, err := s.RecoverAbandoned(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, ports.RecoveryResult{RecoveredClaims: 3, RecoveredDispatches: 1}, first)

	second, err := s.RecoverAbandoned(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, ports.RecoveryResult{}, second)
}

func TestRecoverAbandoned_CleanDatabase(t *testing.T) {
	s := createTestStore(t)
	res, err := s.RecoverAbandoned(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, ports.RecoveryResult{}, res)
}

func TestRecoverAbandoned_FailFast(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE Claim").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("UPDATE Dispatch").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = NewWithDB(db).RecoverAbandoned(context.Background(), t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck dispatches")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScenario_StageLeaseCrashRecover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertStagedClaim(ctx, domain.StageClaim{
		Key: domain.ClaimKey{ProviderDhsCode: "P1", ProIdClaim: 100}, CompanyCode: "C1", MonthKey: "202403",
	}, t0))

	got := mustLease(t, s, leaseReq(domain.HolderSender, t0, 10, domain.EnqueueNotSent))
	assert.Equal(t, []int64{100}, ids(got))
	assert.Equal(t, domain.EnqueueInFlight, mustClaim(t, s, 100).EnqueueStatus)

	// crash: no release, process exits
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.RecoverAbandoned(ctx, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RecoveredClaims)

	c := mustClaim(t, s, 100)
	assert.Equal(t, domain.EnqueueNotSent, c.EnqueueStatus)
	assert.Empty(t, c.LockedBy)
	assert.Nil(t, c.InFlightUntilUtc)
}

func TestRestoreCase_CoversEveryHolder(t *testing.T) {
	sql, args := restoreCase()
	for _, h := range domain.LeaseHolders() {
		assert.Contains(t, args, h.String())
	}
	assert.Contains(t, sql, "ELSE EnqueueStatus END")
	assert.Len(t, args, 2*len(domain.LeaseHolders())+4)
}
