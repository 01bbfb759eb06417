package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// UpsertProviderProfile stores a profile with its connection string
// encrypted. Activating a profile deactivates the others of the same
// provider.
func (s *Store) UpsertProviderProfile(ctx context.Context, p domain.ProviderProfile) error {
	conn, err := s.codec.Encrypt([]byte(p.ConnectionString))
	if err != nil {
		return fmt.Errorf("upsert provider profile: encrypt: %w", err)
	}
	if p.CreatedUtc.IsZero() {
		p.CreatedUtc = time.Now().UTC()
	}
	if p.UpdatedUtc.IsZero() {
		p.UpdatedUtc = p.CreatedUtc
	}
	updated := formatTime(p.UpdatedUtc)

	return s.withTx(ctx, "upsert provider profile", func(tx *sql.Tx) error {
		if p.IsActive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE ProviderProfile SET IsActive = 0, UpdatedUtc = ?
				WHERE ProviderDhsCode = ? AND ProviderCode <> ? AND IsActive = 1`,
				updated, p.ProviderDhsCode, p.ProviderCode); err != nil {
				return fmt.Errorf("deactivate others: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ProviderProfile (ProviderCode, ProviderDhsCode, DbEngine, IntegrationType,
				EncryptedConnectionString, EncryptionKeyId, IsActive, CreatedUtc, UpdatedUtc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ProviderCode) DO UPDATE SET
				ProviderDhsCode = excluded.ProviderDhsCode,
				DbEngine = excluded.DbEngine,
				IntegrationType = excluded.IntegrationType,
				EncryptedConnectionString = excluded.EncryptedConnectionString,
				EncryptionKeyId = excluded.EncryptionKeyId,
				IsActive = excluded.IsActive,
				UpdatedUtc = excluded.UpdatedUtc`,
			p.ProviderCode, p.ProviderDhsCode, p.DBEngine, p.IntegrationType, conn,
			nullString(p.EncryptionKeyID), boolInt(p.IsActive), formatTime(p.CreatedUtc), updated)
		return err
	})
}

// GetActiveProviderProfile returns the single active profile of a provider.
func (s *Store) GetActiveProviderProfile(ctx context.Context, providerDhsCode string) (domain.ProviderProfile, error) {
	var (
		p                domain.ProviderProfile
		conn             []byte
		keyID            sql.NullString
		active           int
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT ProviderCode, ProviderDhsCode, DbEngine, IntegrationType, EncryptedConnectionString,
			EncryptionKeyId, IsActive, CreatedUtc, UpdatedUtc
		FROM ProviderProfile WHERE ProviderDhsCode = ? AND IsActive = 1`, providerDhsCode,
	).Scan(&p.ProviderCode, &p.ProviderDhsCode, &p.DBEngine, &p.IntegrationType, &conn,
		&keyID, &active, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProviderProfile{}, fmt.Errorf("get active provider %s: %w", providerDhsCode, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("get active provider %s: %w", providerDhsCode, err)
	}

	plain, err := s.codec.Decrypt(conn)
	if err != nil {
		return domain.ProviderProfile{}, fmt.Errorf("get active provider %s: decrypt: %w", providerDhsCode, err)
	}
	p.ConnectionString = string(plain)
	p.EncryptionKeyID = keyID.String
	p.IsActive = active != 0
	if p.CreatedUtc, err = parseTime(created); err != nil {
		return domain.ProviderProfile{}, err
	}
	if p.UpdatedUtc, err = parseTime(updated); err != nil {
		return domain.ProviderProfile{}, err
	}
	return p, nil
}

// SetProviderActive toggles a profile. Activating one deactivates the
// others of the same provider.
func (s *Store) SetProviderActive(ctx context.Context, providerCode string, active bool, now time.Time) error {
	ts := formatTime(now)
	return s.withTx(ctx, "set provider active", func(tx *sql.Tx) error {
		var dhs string
		err := tx.QueryRowContext(ctx,
			`SELECT ProviderDhsCode FROM ProviderProfile WHERE ProviderCode = ?`, providerCode).Scan(&dhs)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("provider %s: %w", providerCode, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if active {
			if _, err := tx.ExecContext(ctx, `
				UPDATE ProviderProfile SET IsActive = 0, UpdatedUtc = ?
				WHERE ProviderDhsCode = ? AND ProviderCode <> ? AND IsActive = 1`,
				ts, dhs, providerCode); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE ProviderProfile SET IsActive = ?, UpdatedUtc = ? WHERE ProviderCode = ?`,
			boolInt(active), ts, providerCode)
		return err
	})
}
