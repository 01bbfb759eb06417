package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

// RestartDiagnostic is written to dispatches that were in flight when the
// process stopped.
const RestartDiagnostic = "App restart during request"

// restoreCase builds the EnqueueStatus CASE from the holder table. Rows with
// an unknown holder fall back to domain.FallbackRestoreStatus.
func restoreCase() (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString("CASE")
	for _, h := range domain.LeaseHolders() {
		b.WriteString(" WHEN LockedBy = ? THEN ?")
		args = append(args, h.String(), h.RestoreStatus())
	}
	b.WriteString(" WHEN EnqueueStatus = ? AND AttemptCount > 0 THEN ?")
	args = append(args, domain.EnqueueInFlight, domain.FallbackRestoreStatus(1))
	b.WriteString(" WHEN EnqueueStatus = ? THEN ?")
	args = append(args, domain.EnqueueInFlight, domain.FallbackRestoreStatus(0))
	b.WriteString(" ELSE EnqueueStatus END")
	return b.String(), args
}

// RecoverAbandoned repairs state left by an unclean shutdown in one
// transaction: expired leases are restored by holder and in-flight
// dispatches are failed. It is a global sweep across providers and a second
// run affects nothing.
func (s *Store) RecoverAbandoned(ctx context.Context, now time.Time) (ports.RecoveryResult, error) {
	var res ports.RecoveryResult
	ts := formatTime(now)
	caseSQL, caseArgs := restoreCase()

	err := s.withTx(ctx, "recover abandoned", func(tx *sql.Tx) error {
		args := append(caseArgs, ts, ts)
		r, err := tx.ExecContext(ctx, `
			UPDATE Claim
			SET EnqueueStatus = `+caseSQL+`,
				LockedBy = NULL,
				InFlightUntilUtc = NULL,
				LastUpdatedUtc = ?
			WHERE InFlightUntilUtc IS NOT NULL AND InFlightUntilUtc < ?`, args...)
		if err != nil {
			return fmt.Errorf("expired leases: %w", err)
		}
		if res.RecoveredClaims, err = r.RowsAffected(); err != nil {
			return fmt.Errorf("expired leases: rows affected: %w", err)
		}

		r, err = tx.ExecContext(ctx, `
			UPDATE Dispatch
			SET DispatchStatus = ?, LastError = ?, UpdatedUtc = ?
			WHERE DispatchStatus = ?`,
			domain.DispatchFailed, RestartDiagnostic, ts, domain.DispatchInFlight)
		if err != nil {
			return fmt.Errorf("stuck dispatches: %w", err)
		}
		if res.RecoveredDispatches, err = r.RowsAffected(); err != nil {
			return fmt.Errorf("stuck dispatches: rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return ports.RecoveryResult{}, err
	}
	return res, nil
}
