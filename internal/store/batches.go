package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// EnsureBatch returns the id of the batch for key, creating it when absent.
func (s *Store) EnsureBatch(ctx context.Context, key domain.BatchKey, payerCode string, status domain.BatchStatus, now time.Time) (int64, error) {
	ts := formatTime(now)
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO Batch (ProviderDhsCode, CompanyCode, PayerCode, MonthKey, BatchStatus, HasResume, CreatedUtc, UpdatedUtc)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(ProviderDhsCode, CompanyCode, MonthKey) DO UPDATE SET
			PayerCode = COALESCE(Batch.PayerCode, excluded.PayerCode)
		RETURNING BatchId`,
		key.ProviderDhsCode, key.CompanyCode, nullString(payerCode), key.MonthKey, status, ts, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure batch: %w", err)
	}
	return id, nil
}

const batchColumns = `BatchId, ProviderDhsCode, CompanyCode, PayerCode, MonthKey, BcrId,
	BatchStatus, HasResume, ProcessedCount, TotalCount, LastError, CreatedUtc, UpdatedUtc`

func scanBatch(row interface{ Scan(...any) error }) (domain.Batch, error) {
	var (
		b                     domain.Batch
		payer, bcr, lastError sql.NullString
		hasResume             int
		created, updated      string
	)
	err := row.Scan(&b.ID, &b.Key.ProviderDhsCode, &b.Key.CompanyCode, &payer, &b.Key.MonthKey,
		&bcr, &b.Status, &hasResume, &b.ProcessedCount, &b.TotalCount, &lastError, &created, &updated)
	if err != nil {
		return domain.Batch{}, err
	}
	b.PayerCode = payer.String
	b.BcrID = bcr.String
	b.LastError = lastError.String
	b.HasResume = hasResume != 0
	if b.CreatedUtc, err = parseTime(created); err != nil {
		return domain.Batch{}, err
	}
	if b.UpdatedUtc, err = parseTime(updated); err != nil {
		return domain.Batch{}, err
	}
	return b, nil
}

func (s *Store) getBatch(ctx context.Context, op, where string, args ...any) (domain.Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM Batch WHERE `+where, args...)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Batch{}, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// GetBatch reads a batch by id.
func (s *Store) GetBatch(ctx context.Context, id int64) (domain.Batch, error) {
	return s.getBatch(ctx, fmt.Sprintf("get batch %d", id), `BatchId = ?`, id)
}

// GetBatchByBcrID reads a batch by its backend confirmation id.
func (s *Store) GetBatchByBcrID(ctx context.Context, bcrID string) (domain.Batch, error) {
	return s.getBatch(ctx, "get batch by bcr "+bcrID, `BcrId = ?`, bcrID)
}

// FindBatch reads a batch by its natural key.
func (s *Store) FindBatch(ctx context.Context, key domain.BatchKey) (domain.Batch, error) {
	return s.getBatch(ctx, "find batch",
		`ProviderDhsCode = ? AND CompanyCode = ? AND MonthKey = ?`,
		key.ProviderDhsCode, key.CompanyCode, key.MonthKey)
}

// SetBatchBcrID stores the confirmation id and propagates it to the batch's
// Claims that have none yet.
func (s *Store) SetBatchBcrID(ctx context.Context, id int64, bcrID string, now time.Time) error {
	ts := formatTime(now)
	return s.withTx(ctx, "set batch bcr", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE Batch SET BcrId = ?, UpdatedUtc = ? WHERE BatchId = ?`, bcrID, ts, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE Claim SET BcrId = ?, LastUpdatedUtc = ? WHERE BatchId = ? AND BcrId IS NULL`, bcrID, ts, id)
		return err
	})
}

// UpdateBatchStatus moves a batch to status. Same-status updates annotate
// the row; any other target must be a legal successor.
func (s *Store) UpdateBatchStatus(ctx context.Context, id int64, status domain.BatchStatus, hasResume *bool, lastError string, now time.Time) error {
	var resume sql.NullInt64
	if hasResume != nil {
		resume = sql.NullInt64{Int64: int64(boolInt(*hasResume)), Valid: true}
	}

	return s.withTx(ctx, "update batch status", func(tx *sql.Tx) error {
		var cur domain.BatchStatus
		err := tx.QueryRowContext(ctx, `SELECT BatchStatus FROM Batch WHERE BatchId = ?`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("batch %d: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !cur.CanTransitionTo(status) {
			return &domain.TransitionError{Entity: "batch", Key: fmt.Sprint(id), From: cur.String(), To: status.String()}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE Batch
			SET BatchStatus = ?, HasResume = COALESCE(?, HasResume), LastError = ?, UpdatedUtc = ?
			WHERE BatchId = ?`,
			status, resume, nullString(lastError), formatTime(now), id)
		return err
	})
}

// UpdateBatchProgress stores the progress counters.
func (s *Store) UpdateBatchProgress(ctx context.Context, id int64, processed, total int, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE Batch SET ProcessedCount = ?, TotalCount = ?, UpdatedUtc = ? WHERE BatchId = ?`,
		processed, total, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("update batch progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update batch progress: batch %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListBatchesByStatus lists a provider's batches in one status, oldest first.
func (s *Store) ListBatchesByStatus(ctx context.Context, provider string, status domain.BatchStatus) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM Batch WHERE ProviderDhsCode = ? AND BatchStatus = ? ORDER BY BatchId`,
		provider, status)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	batches := []domain.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("list batches: scan: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// BatchCounts summarizes the Claims of a batch.
func (s *Store) BatchCounts(ctx context.Context, id int64) (domain.BatchCounts, error) {
	var c domain.BatchCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN EnqueueStatus = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN EnqueueStatus = ? THEN 1 ELSE 0 END), 0)
		FROM Claim WHERE BatchId = ?`,
		domain.EnqueueEnqueued, domain.EnqueueFailed, id,
	).Scan(&c.Total, &c.Enqueued, &c.Failed)
	if err != nil {
		return domain.BatchCounts{}, fmt.Errorf("batch counts: %w", err)
	}
	return c, nil
}
