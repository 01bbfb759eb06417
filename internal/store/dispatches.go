package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/claimship/internal/domain"
)

// CreateDispatch inserts a Ready dispatch and its items in one transaction.
// The id is generated when empty and SequenceNo is the next number for the
// batch.
func (s *Store) CreateDispatch(ctx context.Context, d domain.Dispatch, keys []domain.ClaimKey) (domain.Dispatch, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if !d.Type.Valid() {
		return domain.Dispatch{}, fmt.Errorf("create dispatch: invalid type %d", int(d.Type))
	}
	d.Status = domain.DispatchReady
	if d.CreatedUtc.IsZero() {
		d.CreatedUtc = time.Now().UTC()
	}
	d.UpdatedUtc = d.CreatedUtc
	ts := formatTime(d.CreatedUtc)

	err := s.withTx(ctx, "create dispatch", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(SequenceNo), 0) + 1 FROM Dispatch WHERE BatchId = ?`, d.BatchID,
		).Scan(&d.SequenceNo)
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO Dispatch (DispatchId, ProviderDhsCode, BatchId, BcrId, SequenceNo, DispatchType,
				DispatchStatus, AttemptCount, CreatedUtc, UpdatedUtc)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			d.ID, d.ProviderDhsCode, d.BatchID, nullString(d.BcrID), d.SequenceNo, d.Type,
			d.Status, ts, ts)
		if err != nil {
			return fmt.Errorf("insert dispatch: %w", err)
		}

		for i, k := range keys {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO DispatchItem (DispatchId, ProviderDhsCode, ProIdClaim, ItemOrder, ItemResult)
				VALUES (?, ?, ?, ?, ?)`,
				d.ID, k.ProviderDhsCode, k.ProIdClaim, i+1, domain.ItemUnknown)
			if err != nil {
				return fmt.Errorf("insert item %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Dispatch{}, err
	}
	return d, nil
}

// GetDispatch reads a dispatch by id.
func (s *Store) GetDispatch(ctx context.Context, id string) (domain.Dispatch, error) {
	var (
		d                         domain.Dispatch
		bcr, lastErr, correlation sql.NullString
		nextRetry                 sql.NullString
		httpStatus                sql.NullInt64
		created, updated          string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT DispatchId, ProviderDhsCode, BatchId, BcrId, SequenceNo, DispatchType, DispatchStatus,
			AttemptCount, NextRetryUtc, HttpStatusCode, LastError, CorrelationId, CreatedUtc, UpdatedUtc
		FROM Dispatch WHERE DispatchId = ?`, id,
	).Scan(&d.ID, &d.ProviderDhsCode, &d.BatchID, &bcr, &d.SequenceNo, &d.Type, &d.Status,
		&d.AttemptCount, &nextRetry, &httpStatus, &lastErr, &correlation, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dispatch{}, fmt.Errorf("get dispatch %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Dispatch{}, fmt.Errorf("get dispatch %s: %w", id, err)
	}

	d.BcrID = bcr.String
	d.LastError = lastErr.String
	d.CorrelationID = correlation.String
	d.HTTPStatusCode = int(httpStatus.Int64)
	if d.NextRetryUtc, err = parseNullTime(nextRetry); err != nil {
		return domain.Dispatch{}, err
	}
	if d.CreatedUtc, err = parseTime(created); err != nil {
		return domain.Dispatch{}, err
	}
	if d.UpdatedUtc, err = parseTime(updated); err != nil {
		return domain.Dispatch{}, err
	}
	return d, nil
}

// ListDispatchItems returns the items of a dispatch in send order.
func (s *Store) ListDispatchItems(ctx context.Context, id string) ([]domain.DispatchItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DispatchId, ProviderDhsCode, ProIdClaim, ItemOrder, ItemResult, ErrorMessage
		FROM DispatchItem WHERE DispatchId = ? ORDER BY ItemOrder`, id)
	if err != nil {
		return nil, fmt.Errorf("list dispatch items: %w", err)
	}
	defer rows.Close()

	items := []domain.DispatchItem{}
	for rows.Next() {
		var (
			it  domain.DispatchItem
			msg sql.NullString
		)
		if err := rows.Scan(&it.DispatchID, &it.Key.ProviderDhsCode, &it.Key.ProIdClaim,
			&it.ItemOrder, &it.Result, &msg); err != nil {
			return nil, fmt.Errorf("list dispatch items: scan: %w", err)
		}
		it.ErrorMessage = msg.String
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dispatch items: %w", err)
	}
	return items, nil
}

func dispatchStatusTx(ctx context.Context, tx *sql.Tx, id string) (domain.DispatchStatus, error) {
	var cur domain.DispatchStatus
	err := tx.QueryRowContext(ctx, `SELECT DispatchStatus FROM Dispatch WHERE DispatchId = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("dispatch %s: %w", id, domain.ErrNotFound)
	}
	return cur, err
}

// MarkDispatchInFlight records that the send is starting and counts the
// attempt.
func (s *Store) MarkDispatchInFlight(ctx context.Context, id string, now time.Time) error {
	return s.withTx(ctx, "mark dispatch in flight", func(tx *sql.Tx) error {
		cur, err := dispatchStatusTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cur.CanTransitionTo(domain.DispatchInFlight) {
			return &domain.TransitionError{Entity: "dispatch", Key: id, From: cur.String(), To: domain.DispatchInFlight.String()}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE Dispatch SET DispatchStatus = ?, AttemptCount = AttemptCount + 1, UpdatedUtc = ?
			WHERE DispatchId = ?`,
			domain.DispatchInFlight, formatTime(now), id)
		return err
	})
}

// CompleteDispatch records the outcome and every item result in one
// transaction. A Ready result status is derived from the items.
func (s *Store) CompleteDispatch(ctx context.Context, id string, res domain.DispatchResult, now time.Time) error {
	status := res.Status
	if status == domain.DispatchReady {
		status = domain.StatusFromOutcomes(res.Items)
	}

	return s.withTx(ctx, "complete dispatch", func(tx *sql.Tx) error {
		cur, err := dispatchStatusTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !cur.CanTransitionTo(status) {
			return &domain.TransitionError{Entity: "dispatch", Key: id, From: cur.String(), To: status.String()}
		}

		var httpStatus sql.NullInt64
		if res.HTTPStatusCode != 0 {
			httpStatus = sql.NullInt64{Int64: int64(res.HTTPStatusCode), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE Dispatch
			SET DispatchStatus = ?, HttpStatusCode = ?, LastError = ?, CorrelationId = COALESCE(?, CorrelationId), UpdatedUtc = ?
			WHERE DispatchId = ?`,
			status, httpStatus, nullString(res.LastError), nullString(res.CorrelationID), formatTime(now), id)
		if err != nil {
			return err
		}

		for _, it := range res.Items {
			if !domain.ItemUnknown.CanTransitionTo(it.Result) {
				return &domain.TransitionError{Entity: "dispatch item", Key: it.Key.String(), From: domain.ItemUnknown.String(), To: it.Result.String()}
			}
			r, err := tx.ExecContext(ctx, `
				UPDATE DispatchItem SET ItemResult = ?, ErrorMessage = ?
				WHERE DispatchId = ? AND ProviderDhsCode = ? AND ProIdClaim = ? AND ItemResult = ?`,
				it.Result, nullString(it.ErrorMessage), id, it.Key.ProviderDhsCode, it.Key.ProIdClaim, domain.ItemUnknown)
			if err != nil {
				return fmt.Errorf("item %s: %w", it.Key, err)
			}
			if n, _ := r.RowsAffected(); n == 0 {
				return itemMissOrSet(ctx, tx, id, it)
			}
		}
		return nil
	})
}

func itemMissOrSet(ctx context.Context, tx *sql.Tx, id string, it domain.ItemOutcome) error {
	var cur domain.ItemResult
	err := tx.QueryRowContext(ctx, `
		SELECT ItemResult FROM DispatchItem WHERE DispatchId = ? AND ProviderDhsCode = ? AND ProIdClaim = ?`,
		id, it.Key.ProviderDhsCode, it.Key.ProIdClaim).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("item %s: %w", it.Key, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("item %s: %w", it.Key, err)
	}
	return &domain.TransitionError{Entity: "dispatch item", Key: it.Key.String(), From: cur.String(), To: it.Result.String()}
}

// ScheduleDispatchRetry records when a failed dispatch may be retried. A nil
// delay clears the schedule.
func (s *Store) ScheduleDispatchRetry(ctx context.Context, id string, now time.Time, nextRetryDelay *time.Duration) error {
	return s.withTx(ctx, "schedule dispatch retry", func(tx *sql.Tx) error {
		cur, err := dispatchStatusTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur != domain.DispatchFailed && cur != domain.DispatchPartiallySucceeded {
			return &domain.TransitionError{Entity: "dispatch", Key: id, From: cur.String(), To: "retry scheduled"}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE Dispatch SET NextRetryUtc = ?, UpdatedUtc = ? WHERE DispatchId = ?`,
			dueTime(now, nextRetryDelay), formatTime(now), id)
		return err
	})
}
