package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// InsertAPICalls persists a batch of telemetry records in one transaction.
func (s *Store) InsertAPICalls(ctx context.Context, calls []domain.APICall) error {
	if len(calls) == 0 {
		return nil
	}
	return s.withTx(ctx, "insert api calls", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ApiCallLog (ProviderDhsCode, EndpointName, CorrelationId, RequestUtc, ResponseUtc,
				DurationMs, HttpStatusCode, Succeeded, ErrorMessage, RequestBytes, ResponseBytes, WasGzipRequest)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, c := range calls {
			var status sql.NullInt64
			if c.HTTPStatusCode != 0 {
				status = sql.NullInt64{Int64: int64(c.HTTPStatusCode), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				nullString(c.ProviderDhsCode), c.EndpointName, nullString(c.CorrelationID),
				formatTime(c.RequestUtc), formatTimePtr(c.ResponseUtc), c.Duration.Milliseconds(),
				status, boolInt(c.Succeeded), nullString(c.ErrorMessage),
				c.RequestBytes, c.ResponseBytes, boolInt(c.WasGzipRequest)); err != nil {
				return fmt.Errorf("insert %s: %w", c.EndpointName, err)
			}
		}
		return nil
	})
}

// ListRecentAPICalls returns the newest records first.
func (s *Store) ListRecentAPICalls(ctx context.Context, limit int) ([]domain.APICall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ProviderDhsCode, EndpointName, CorrelationId, RequestUtc, ResponseUtc, DurationMs,
			HttpStatusCode, Succeeded, ErrorMessage, RequestBytes, ResponseBytes, WasGzipRequest
		FROM ApiCallLog ORDER BY ApiCallLogId DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list api calls: %w", err)
	}
	defer rows.Close()

	out := []domain.APICall{}
	for rows.Next() {
		var (
			c                              domain.APICall
			provider, correlation, errMsg  sql.NullString
			requested                      string
			responded                      sql.NullString
			durationMs, status, reqB, resB sql.NullInt64
			succeeded, gzip                int
		)
		if err := rows.Scan(&provider, &c.EndpointName, &correlation, &requested, &responded,
			&durationMs, &status, &succeeded, &errMsg, &reqB, &resB, &gzip); err != nil {
			return nil, fmt.Errorf("list api calls: scan: %w", err)
		}
		c.ProviderDhsCode = provider.String
		c.CorrelationID = correlation.String
		c.ErrorMessage = errMsg.String
		c.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		c.HTTPStatusCode = int(status.Int64)
		c.Succeeded = succeeded != 0
		c.RequestBytes = reqB.Int64
		c.ResponseBytes = resB.Int64
		c.WasGzipRequest = gzip != 0
		if c.RequestUtc, err = parseTime(requested); err != nil {
			return nil, err
		}
		if c.ResponseUtc, err = parseNullTime(responded); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api calls: %w", err)
	}
	return out, nil
}
