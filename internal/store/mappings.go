package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// RecordMissingMapping records a source value seen without a translation.
// Observing it again refreshes the row but never moves its status back.
func (s *Store) RecordMissingMapping(ctx context.Context, m domain.MissingMapping, now time.Time) error {
	ts := formatTime(now)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO MissingDomainMapping (ProviderDhsCode, CompanyCode, DomainName, DomainTableId, SourceValue,
			DiscoverySource, MappingStatus, DiscoveredUtc, LastUpdatedUtc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ProviderDhsCode, CompanyCode, DomainTableId, SourceValue) DO UPDATE SET
			DomainName = excluded.DomainName,
			LastUpdatedUtc = excluded.LastUpdatedUtc`,
		m.Key.ProviderDhsCode, m.Key.CompanyCode, m.DomainName, m.Key.DomainTableID, m.Key.SourceValue,
		m.DiscoverySource, domain.MappingMissing, ts, ts)
	if err != nil {
		return fmt.Errorf("record missing mapping: %w", err)
	}
	return nil
}

// ListMappingsForPosting returns Missing and PostFailed rows of a provider.
func (s *Store) ListMappingsForPosting(ctx context.Context, providerDhsCode string) ([]domain.MissingMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT MissingMappingId, ProviderDhsCode, CompanyCode, DomainName, DomainTableId, SourceValue,
			DiscoverySource, MappingStatus, LastError, DiscoveredUtc, LastPostedUtc, LastUpdatedUtc
		FROM MissingDomainMapping
		WHERE ProviderDhsCode = ? AND MappingStatus IN (?, ?)
		ORDER BY MissingMappingId`,
		providerDhsCode, domain.MappingMissing, domain.MappingPostFailed)
	if err != nil {
		return nil, fmt.Errorf("list mappings for posting: %w", err)
	}
	defer rows.Close()

	out := []domain.MissingMapping{}
	for rows.Next() {
		var (
			m                   domain.MissingMapping
			lastErr, lastPosted sql.NullString
			discovered, updated string
		)
		if err := rows.Scan(&m.ID, &m.Key.ProviderDhsCode, &m.Key.CompanyCode, &m.DomainName,
			&m.Key.DomainTableID, &m.Key.SourceValue, &m.DiscoverySource, &m.Status, &lastErr,
			&discovered, &lastPosted, &updated); err != nil {
			return nil, fmt.Errorf("list mappings for posting: scan: %w", err)
		}
		m.LastError = lastErr.String
		if m.DiscoveredUtc, err = parseTime(discovered); err != nil {
			return nil, err
		}
		if m.LastPostedUtc, err = parseNullTime(lastPosted); err != nil {
			return nil, err
		}
		if m.LastUpdatedUtc, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list mappings for posting: %w", err)
	}
	return out, nil
}

func (s *Store) advanceMappings(ctx context.Context, op string, ids []int64, to domain.MappingStatus, set string, args ...any) error {
	if len(ids) == 0 {
		return nil
	}
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		for _, id := range ids {
			var cur domain.MappingStatus
			err := tx.QueryRowContext(ctx,
				`SELECT MappingStatus FROM MissingDomainMapping WHERE MissingMappingId = ?`, id).Scan(&cur)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("mapping %d: %w", id, domain.ErrNotFound)
			}
			if err != nil {
				return err
			}
			if !cur.CanTransitionTo(to) {
				return &domain.TransitionError{Entity: "mapping", Key: fmt.Sprint(id), From: cur.String(), To: to.String()}
			}
			rowArgs := append([]any{to}, args...)
			rowArgs = append(rowArgs, id)
			if _, err := tx.ExecContext(ctx,
				`UPDATE MissingDomainMapping SET MappingStatus = ?, `+set+` WHERE MissingMappingId = ?`,
				rowArgs...); err != nil {
				return fmt.Errorf("mapping %d: %w", id, err)
			}
		}
		return nil
	})
}

// MarkMappingsPosted records a successful post upstream.
func (s *Store) MarkMappingsPosted(ctx context.Context, ids []int64, now time.Time) error {
	ts := formatTime(now)
	return s.advanceMappings(ctx, "mark mappings posted", ids, domain.MappingPosted,
		`LastError = NULL, LastPostedUtc = ?, LastUpdatedUtc = ?`, ts, ts)
}

// MarkMappingsPostFailed records a failed post.
func (s *Store) MarkMappingsPostFailed(ctx context.Context, ids []int64, lastError string, now time.Time) error {
	return s.advanceMappings(ctx, "mark mappings post failed", ids, domain.MappingPostFailed,
		`LastError = ?, LastUpdatedUtc = ?`, nullString(lastError), formatTime(now))
}

// ApproveMapping stores the backend translation and advances the missing row
// in one transaction.
func (s *Store) ApproveMapping(ctx context.Context, key domain.MappingKey, domainName, target string, now time.Time) error {
	ts := formatTime(now)
	return s.withTx(ctx, "approve mapping", func(tx *sql.Tx) error {
		var (
			missingID  int64
			cur        domain.MappingStatus
			discovered string
			lastPosted sql.NullString
		)
		err := tx.QueryRowContext(ctx, `
			SELECT MissingMappingId, MappingStatus, DiscoveredUtc, LastPostedUtc FROM MissingDomainMapping
			WHERE ProviderDhsCode = ? AND CompanyCode = ? AND DomainTableId = ? AND SourceValue = ?`,
			key.ProviderDhsCode, key.CompanyCode, key.DomainTableID, key.SourceValue,
		).Scan(&missingID, &cur, &discovered, &lastPosted)
		found := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if !found {
			discovered = ts
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ApprovedDomainMapping (ProviderDhsCode, CompanyCode, DomainName, DomainTableId, SourceValue,
				TargetValue, DiscoveredUtc, LastPostedUtc, LastUpdatedUtc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ProviderDhsCode, CompanyCode, DomainTableId, SourceValue) DO UPDATE SET
				DomainName = excluded.DomainName,
				TargetValue = excluded.TargetValue,
				LastUpdatedUtc = excluded.LastUpdatedUtc`,
			key.ProviderDhsCode, key.CompanyCode, domainName, key.DomainTableID, key.SourceValue,
			target, discovered, lastPosted, ts)
		if err != nil {
			return fmt.Errorf("upsert approved: %w", err)
		}

		if !found || cur == domain.MappingApproved {
			return nil
		}
		if !cur.CanTransitionTo(domain.MappingApproved) {
			return &domain.TransitionError{Entity: "mapping", Key: fmt.Sprint(missingID), From: cur.String(), To: domain.MappingApproved.String()}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE MissingDomainMapping SET MappingStatus = ?, LastError = NULL, LastUpdatedUtc = ?
			WHERE MissingMappingId = ?`,
			domain.MappingApproved, ts, missingID)
		return err
	})
}

// GetApprovedMapping reads an approved translation or returns
// domain.ErrNotFound.
func (s *Store) GetApprovedMapping(ctx context.Context, key domain.MappingKey) (domain.DomainMapping, error) {
	var (
		m                   domain.DomainMapping
		lastPosted          sql.NullString
		discovered, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT DomainMappingId, DomainName, TargetValue, DiscoveredUtc, LastPostedUtc, LastUpdatedUtc
		FROM ApprovedDomainMapping
		WHERE ProviderDhsCode = ? AND CompanyCode = ? AND DomainTableId = ? AND SourceValue = ?`,
		key.ProviderDhsCode, key.CompanyCode, key.DomainTableID, key.SourceValue,
	).Scan(&m.ID, &m.DomainName, &m.TargetValue, &discovered, &lastPosted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DomainMapping{}, fmt.Errorf("get approved mapping: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.DomainMapping{}, fmt.Errorf("get approved mapping: %w", err)
	}

	m.Key = key
	m.Status = domain.MappingApproved
	if m.DiscoveredUtc, err = parseTime(discovered); err != nil {
		return domain.DomainMapping{}, err
	}
	if m.LastPostedUtc, err = parseNullTime(lastPosted); err != nil {
		return domain.DomainMapping{}, err
	}
	if m.LastUpdatedUtc, err = parseTime(updated); err != nil {
		return domain.DomainMapping{}, err
	}
	return m, nil
}
