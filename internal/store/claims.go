package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// UpsertStagedClaim inserts a discovered Claim as NotSent/Unknown. A Claim
// seen again is reset to NotSent unless it is already Enqueued or leased;
// Completed is never regressed and existing batch associations are kept.
func (s *Store) UpsertStagedClaim(ctx context.Context, c domain.StageClaim, now time.Time) error {
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO Claim
		(ProviderDhsCode, ProIdClaim, CompanyCode, MonthKey, BatchId, BcrId,
		 EnqueueStatus, CompletionStatus, AttemptCount, FirstSeenUtc, LastUpdatedUtc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(ProviderDhsCode, ProIdClaim) DO UPDATE SET
			CompanyCode = excluded.CompanyCode,
			MonthKey = COALESCE(Claim.MonthKey, excluded.MonthKey),
			BatchId = COALESCE(Claim.BatchId, excluded.BatchId),
			BcrId = COALESCE(Claim.BcrId, excluded.BcrId),
			EnqueueStatus = CASE
				WHEN Claim.EnqueueStatus IN (?, ?) THEN Claim.EnqueueStatus
				ELSE ?
			END,
			CompletionStatus = CASE
				WHEN Claim.CompletionStatus = ? THEN Claim.CompletionStatus
				ELSE ?
			END,
			LastUpdatedUtc = excluded.LastUpdatedUtc`,
		c.Key.ProviderDhsCode, c.Key.ProIdClaim, c.CompanyCode, c.MonthKey,
		nullInt64(c.BatchID), nullString(c.BcrID),
		domain.EnqueueNotSent, domain.CompletionUnknown, ts, ts,
		domain.EnqueueEnqueued, domain.EnqueueInFlight, domain.EnqueueNotSent,
		domain.CompletionCompleted, domain.CompletionUnknown,
	)
	if err != nil {
		return fmt.Errorf("upsert staged claim %s: %w", c.Key, err)
	}
	return nil
}

const claimColumns = `ProviderDhsCode, ProIdClaim, CompanyCode, MonthKey, BatchId, BcrId,
	EnqueueStatus, CompletionStatus, LockedBy, InFlightUntilUtc, AttemptCount,
	NextRetryUtc, LastError, LastEnqueuedUtc, FirstSeenUtc, LastUpdatedUtc`

func scanClaim(row interface{ Scan(...any) error }) (domain.Claim, error) {
	var (
		c                            domain.Claim
		batchID                      sql.NullInt64
		bcrID, lockedBy, lastError   sql.NullString
		inFlight, nextRetry, lastEnq sql.NullString
		firstSeen, lastUpdated       string
	)
	err := row.Scan(&c.Key.ProviderDhsCode, &c.Key.ProIdClaim, &c.CompanyCode, &c.MonthKey,
		&batchID, &bcrID, &c.EnqueueStatus, &c.CompletionStatus, &lockedBy, &inFlight,
		&c.AttemptCount, &nextRetry, &lastError, &lastEnq, &firstSeen, &lastUpdated)
	if err != nil {
		return domain.Claim{}, err
	}

	c.BatchID = int64Ptr(batchID)
	c.BcrID = bcrID.String
	c.LockedBy = lockedBy.String
	c.LastError = lastError.String
	if c.InFlightUntilUtc, err = parseNullTime(inFlight); err != nil {
		return domain.Claim{}, err
	}
	if c.NextRetryUtc, err = parseNullTime(nextRetry); err != nil {
		return domain.Claim{}, err
	}
	if c.LastEnqueuedUtc, err = parseNullTime(lastEnq); err != nil {
		return domain.Claim{}, err
	}
	if c.FirstSeenUtc, err = parseTime(firstSeen); err != nil {
		return domain.Claim{}, err
	}
	if c.LastUpdatedUtc, err = parseTime(lastUpdated); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// GetClaim reads one Claim or returns domain.ErrNotFound.
func (s *Store) GetClaim(ctx context.Context, key domain.ClaimKey) (domain.Claim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM Claim WHERE ProviderDhsCode = ? AND ProIdClaim = ?`,
		key.ProviderDhsCode, key.ProIdClaim)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Claim{}, fmt.Errorf("get claim %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("get claim %s: %w", key, err)
	}
	return c, nil
}

// ListClaimsByBatch returns the keys of a batch in ProIdClaim order.
func (s *Store) ListClaimsByBatch(ctx context.Context, batchID int64) ([]domain.ClaimKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ProviderDhsCode, ProIdClaim FROM Claim WHERE BatchId = ? ORDER BY ProIdClaim`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list claims by batch: %w", err)
	}
	defer rows.Close()

	keys := []domain.ClaimKey{}
	for rows.Next() {
		var k domain.ClaimKey
		if err := rows.Scan(&k.ProviderDhsCode, &k.ProIdClaim); err != nil {
			return nil, fmt.Errorf("list claims by batch: scan: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list claims by batch: %w", err)
	}
	return keys, nil
}

// claimMark is one per-key UPDATE applied to a set of keys atomically.
type claimMark struct {
	op   string
	to   string
	from []domain.EnqueueStatus // nil means any status
	sql  string                 // SET clause
	args []any
}

// applyClaimMark runs m once per key inside one transaction. A key that does
// not exist or is not in an allowed predecessor status rolls back the batch.
func (s *Store) applyClaimMark(ctx context.Context, keys []domain.ClaimKey, m claimMark) error {
	if len(keys) == 0 {
		return nil
	}

	query := `UPDATE Claim SET ` + m.sql + ` WHERE ProviderDhsCode = ? AND ProIdClaim = ?`
	if len(m.from) > 0 {
		query += ` AND EnqueueStatus IN (` + placeholders(len(m.from)) + `)`
	}

	return s.withTx(ctx, m.op, func(tx *sql.Tx) error {
		for _, key := range keys {
			args := append([]any{}, m.args...)
			args = append(args, key.ProviderDhsCode, key.ProIdClaim)
			for _, st := range m.from {
				args = append(args, st)
			}

			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("claim %s: %w", key, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim %s: rows affected: %w", key, err)
			}
			if n == 0 {
				return claimMissOrIllegal(ctx, tx, key, m.to)
			}
		}
		return nil
	})
}

// claimMissOrIllegal explains why a keyed update matched no row.
func claimMissOrIllegal(ctx context.Context, tx *sql.Tx, key domain.ClaimKey, to string) error {
	var cur domain.EnqueueStatus
	err := tx.QueryRowContext(ctx,
		`SELECT EnqueueStatus FROM Claim WHERE ProviderDhsCode = ? AND ProIdClaim = ?`,
		key.ProviderDhsCode, key.ProIdClaim).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("claim %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("claim %s: read status: %w", key, err)
	}
	return &domain.TransitionError{Entity: "claim", Key: key.String(), From: cur.String(), To: to}
}

// MarkEnqueued records backend acceptance. The lease and any retry schedule
// are cleared; AttemptCount is left alone.
func (s *Store) MarkEnqueued(ctx context.Context, keys []domain.ClaimKey, bcrID string, now time.Time) error {
	ts := formatTime(now)
	return s.applyClaimMark(ctx, keys, claimMark{
		op:   "mark enqueued",
		to:   domain.EnqueueEnqueued.String(),
		from: domain.EnqueueEnqueued.Predecessors(),
		sql: `EnqueueStatus = ?, BcrId = COALESCE(?, BcrId), LockedBy = NULL, InFlightUntilUtc = NULL,
			NextRetryUtc = NULL, LastError = NULL, LastEnqueuedUtc = ?, LastUpdatedUtc = ?`,
		args: []any{domain.EnqueueEnqueued, nullString(bcrID), ts, ts},
	})
}

// MarkFailed records a failed attempt. With a nil delay NextRetryUtc is
// cleared, which leaves the Claim for manual retry.
func (s *Store) MarkFailed(ctx context.Context, keys []domain.ClaimKey, lastError string, now time.Time, nextRetryDelay *time.Duration) error {
	return s.applyClaimMark(ctx, keys, claimMark{
		op:   "mark failed",
		to:   domain.EnqueueFailed.String(),
		from: domain.EnqueueFailed.Predecessors(),
		sql: `EnqueueStatus = ?, LastError = ?, NextRetryUtc = ?, LockedBy = NULL,
			InFlightUntilUtc = NULL, LastUpdatedUtc = ?`,
		args: []any{domain.EnqueueFailed, nullString(lastError), dueTime(now, nextRetryDelay), formatTime(now)},
	})
}

// SetCompletionStatus records the backend's completion verdict.
func (s *Store) SetCompletionStatus(ctx context.Context, keys []domain.ClaimKey, status domain.CompletionStatus, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("set completion status: invalid status %d", int(status))
	}
	return s.applyClaimMark(ctx, keys, claimMark{
		op:   "set completion status",
		to:   status.String(),
		sql:  `CompletionStatus = ?, LastUpdatedUtc = ?`,
		args: []any{status, formatTime(now)},
	})
}

// IncrementAttempt bumps AttemptCount without changing status.
func (s *Store) IncrementAttempt(ctx context.Context, keys []domain.ClaimKey, now time.Time) error {
	return s.applyClaimMark(ctx, keys, claimMark{
		op:   "increment attempt",
		to:   "attempt+1",
		sql:  `AttemptCount = AttemptCount + 1, LastUpdatedUtc = ?`,
		args: []any{formatTime(now)},
	})
}

// ScheduleManualRetry makes Failed Claims due immediately.
func (s *Store) ScheduleManualRetry(ctx context.Context, keys []domain.ClaimKey, now time.Time) error {
	ts := formatTime(now)
	return s.applyClaimMark(ctx, keys, claimMark{
		op:   "schedule manual retry",
		to:   domain.EnqueueFailed.String(),
		from: []domain.EnqueueStatus{domain.EnqueueFailed},
		sql:  `NextRetryUtc = ?, LastUpdatedUtc = ?`,
		args: []any{ts, ts},
	})
}

// CountClaimsByStatus returns the number of Claims per EnqueueStatus.
func (s *Store) CountClaimsByStatus(ctx context.Context, providerDhsCode string) (map[domain.EnqueueStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT EnqueueStatus, COUNT(*) FROM Claim WHERE ProviderDhsCode = ? GROUP BY EnqueueStatus`,
		providerDhsCode)
	if err != nil {
		return nil, fmt.Errorf("count claims: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EnqueueStatus]int)
	for rows.Next() {
		var (
			st domain.EnqueueStatus
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count claims: scan: %w", err)
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count claims: %w", err)
	}
	return counts, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
