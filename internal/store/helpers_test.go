package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// createTestStore opens a fresh database file for one test.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.db")
	s, err := Open(path, opts...)
	require.NoError(t, err, "Open()")
	t.Cleanup(func() { s.Close() })
	return s
}

func key(id int64) domain.ClaimKey {
	return domain.ClaimKey{ProviderDhsCode: "P1", ProIdClaim: id}
}

func keys(ids ...int64) []domain.ClaimKey {
	out := make([]domain.ClaimKey, len(ids))
	for i, id := range ids {
		out[i] = key(id)
	}
	return out
}

// stageClaims stages P1 claims with the given ids into one batch.
func stageClaims(t *testing.T, s *Store, ids ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	batchID, err := s.EnsureBatch(ctx,
		domain.BatchKey{ProviderDhsCode: "P1", CompanyCode: "C1", MonthKey: "202403"},
		"PAY1", domain.BatchDraft, t0)
	require.NoError(t, err)

	for _, id := range ids {
		err := s.UpsertStagedClaim(ctx, domain.StageClaim{
			Key:         key(id),
			CompanyCode: "C1",
			MonthKey:    "202403",
			BatchID:     &batchID,
		}, t0)
		require.NoError(t, err)
	}
	return batchID
}

func leaseReq(holder domain.LeaseHolder, now time.Time, take int, eligible ...domain.EnqueueStatus) domain.LeaseRequest {
	return domain.LeaseRequest{
		ProviderDhsCode: "P1",
		Holder:          holder,
		Now:             now,
		LeaseUntil:      now.Add(2 * time.Minute),
		Take:            take,
		Eligible:        eligible,
	}
}

func mustLease(t *testing.T, s *Store, req domain.LeaseRequest) []domain.ClaimKey {
	t.Helper()
	got, err := s.Lease(context.Background(), req)
	require.NoError(t, err)
	return got
}

func mustClaim(t *testing.T, s *Store, id int64) domain.Claim {
	t.Helper()
	c, err := s.GetClaim(context.Background(), key(id))
	require.NoError(t, err)
	return c
}

func ids(ks []domain.ClaimKey) []int64 {
	out := make([]int64, len(ks))
	for i, k := range ks {
		out[i] = k.ProIdClaim
	}
	return out
}

// failClaims leases ids as Sender and marks them Failed with delay.
func failClaims(t *testing.T, s *Store, now time.Time, delay *time.Duration, idList ...int64) {
	t.Helper()
	ctx := context.Background()
	got := mustLease(t, s, leaseReq(domain.HolderSender, now, len(idList), domain.EnqueueNotSent))
	require.Equal(t, idList, ids(got))
	require.NoError(t, s.IncrementAttempt(ctx, got, now))
	require.NoError(t, s.MarkFailed(ctx, got, "boom", now, delay))
}

func durationPtr(d time.Duration) *time.Duration { return &d }

// xorCodec is a reversible stand-in for the column encryptor.
type xorCodec struct{}

func (xorCodec) Encrypt(b []byte) ([]byte, error) { return xor(b), nil }
func (xorCodec) Decrypt(b []byte) ([]byte, error) { return xor(b), nil }

func xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ 0x5a
	}
	return out
}
