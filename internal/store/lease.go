package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// Lease selects and marks eligible Claims in a single UPDATE ... RETURNING,
// so two callers can never be handed the same row.
func (s *Store) Lease(ctx context.Context, req domain.LeaseRequest) ([]domain.ClaimKey, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Take == 0 || len(req.Eligible) == 0 {
		return []domain.ClaimKey{}, nil
	}

	now := formatTime(req.Now)
	args := []any{req.ProviderDhsCode}
	for _, st := range req.Eligible {
		args = append(args, st)
	}
	args = append(args, now)

	var filter strings.Builder
	if req.BatchID != nil {
		filter.WriteString(" AND BatchId = ?")
		args = append(args, *req.BatchID)
	}
	if req.RequireRetryDue {
		filter.WriteString(" AND (NextRetryUtc IS NULL OR NextRetryUtc <= ?)")
		args = append(args, now)
	}
	if req.OnlyIncomplete {
		filter.WriteString(" AND CompletionStatus <> ?")
		args = append(args, domain.CompletionCompleted)
	}
	if req.SkipUnscheduled {
		filter.WriteString(" AND NextRetryUtc IS NOT NULL")
	}
	args = append(args, req.Take,
		req.Holder.String(), formatTime(req.LeaseUntil), domain.EnqueueInFlight, now)

	query := `
		WITH picked AS (
			SELECT rowid FROM Claim
			WHERE ProviderDhsCode = ?
			  AND EnqueueStatus IN (` + placeholders(len(req.Eligible)) + `)
			  AND (InFlightUntilUtc IS NULL OR InFlightUntilUtc <= ?)` + filter.String() + `
			ORDER BY ProIdClaim
			LIMIT ?
		)
		UPDATE Claim
		SET LockedBy = ?, InFlightUntilUtc = ?, EnqueueStatus = ?, LastUpdatedUtc = ?
		WHERE rowid IN (SELECT rowid FROM picked)
		RETURNING ProviderDhsCode, ProIdClaim`

	keys := []domain.ClaimKey{}
	err := s.withTx(ctx, "lease", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var k domain.ClaimKey
			if err := rows.Scan(&k.ProviderDhsCode, &k.ProIdClaim); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			keys = append(keys, k)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].ProIdClaim < keys[j].ProIdClaim })
	return keys, nil
}

// Release hands Claims back without counting an attempt. Only rows that are
// still InFlight under holder are touched; anything else was already
// re-leased or settled and is skipped.
func (s *Store) Release(ctx context.Context, holder domain.LeaseHolder, keys []domain.ClaimKey, now time.Time) error {
	if !holder.Valid() {
		return fmt.Errorf("release: %w: unknown holder %d", domain.ErrInvalidLease, int(holder))
	}
	if len(keys) == 0 {
		return nil
	}

	ts := formatTime(now)
	return s.withTx(ctx, "release", func(tx *sql.Tx) error {
		for _, key := range keys {
			_, err := tx.ExecContext(ctx, `
				UPDATE Claim
				SET EnqueueStatus = ?, LockedBy = NULL, InFlightUntilUtc = NULL, LastUpdatedUtc = ?
				WHERE ProviderDhsCode = ? AND ProIdClaim = ? AND EnqueueStatus = ? AND LockedBy = ?`,
				holder.RestoreStatus(), ts, key.ProviderDhsCode, key.ProIdClaim,
				domain.EnqueueInFlight, holder.String())
			if err != nil {
				return fmt.Errorf("claim %s: %w", key, err)
			}
		}
		return nil
	})
}
