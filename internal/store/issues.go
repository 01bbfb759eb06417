package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// RecordValidationIssue stores a data problem for operator review.
func (s *Store) RecordValidationIssue(ctx context.Context, issue domain.ValidationIssue) (int64, error) {
	if issue.CreatedUtc.IsZero() {
		issue.CreatedUtc = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ValidationIssue (ProviderDhsCode, ProIdClaim, IssueType, FieldPath, RawValue,
			Message, IsBlocking, CreatedUtc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ProviderDhsCode, nullInt64(issue.ProIdClaim), issue.IssueType,
		nullString(issue.FieldPath), nullString(issue.RawValue), issue.Message,
		boolInt(issue.IsBlocking), formatTime(issue.CreatedUtc))
	if err != nil {
		return 0, fmt.Errorf("record validation issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record validation issue: last insert id: %w", err)
	}
	return id, nil
}

// ListOpenValidationIssues returns a provider's unresolved issues.
func (s *Store) ListOpenValidationIssues(ctx context.Context, providerDhsCode string) ([]domain.ValidationIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ValidationIssueId, ProviderDhsCode, ProIdClaim, IssueType, FieldPath, RawValue,
			Message, IsBlocking, CreatedUtc
		FROM ValidationIssue
		WHERE ProviderDhsCode = ? AND ResolvedUtc IS NULL
		ORDER BY ValidationIssueId`, providerDhsCode)
	if err != nil {
		return nil, fmt.Errorf("list validation issues: %w", err)
	}
	defer rows.Close()

	out := []domain.ValidationIssue{}
	for rows.Next() {
		var (
			v               domain.ValidationIssue
			claim           sql.NullInt64
			field, rawValue sql.NullString
			blocking        int
			created         string
		)
		if err := rows.Scan(&v.ID, &v.ProviderDhsCode, &claim, &v.IssueType, &field, &rawValue,
			&v.Message, &blocking, &created); err != nil {
			return nil, fmt.Errorf("list validation issues: scan: %w", err)
		}
		v.ProIdClaim = int64Ptr(claim)
		v.FieldPath = field.String
		v.RawValue = rawValue.String
		v.IsBlocking = blocking != 0
		if v.CreatedUtc, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list validation issues: %w", err)
	}
	return out, nil
}

// ResolveValidationIssue closes an issue. Resolving twice is a no-op.
func (s *Store) ResolveValidationIssue(ctx context.Context, id int64, resolvedBy string, now time.Time) error {
	return s.withTx(ctx, "resolve validation issue", func(tx *sql.Tx) error {
		var resolved sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT ResolvedUtc FROM ValidationIssue WHERE ValidationIssueId = ?`, id).Scan(&resolved)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("issue %d: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if resolved.Valid {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE ValidationIssue SET ResolvedUtc = ?, ResolvedBy = ? WHERE ValidationIssueId = ?`,
			formatTime(now), nullString(resolvedBy), id)
		return err
	})
}
