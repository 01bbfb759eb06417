package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// UpsertPayload encrypts and stores a Claim body. The hash covers the
// plaintext; a changed body bumps the version.
func (s *Store) UpsertPayload(ctx context.Context, key domain.ClaimKey, payload []byte, now time.Time) error {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	enc, err := s.codec.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("upsert payload %s: encrypt: %w", key, err)
	}

	ts := formatTime(now)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ClaimPayload (ProviderDhsCode, ProIdClaim, PayloadJson, PayloadSha256, PayloadVersion, CreatedUtc, UpdatedUtc)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(ProviderDhsCode, ProIdClaim) DO UPDATE SET
			PayloadJson = excluded.PayloadJson,
			PayloadVersion = CASE
				WHEN ClaimPayload.PayloadSha256 = excluded.PayloadSha256 THEN ClaimPayload.PayloadVersion
				ELSE ClaimPayload.PayloadVersion + 1
			END,
			PayloadSha256 = excluded.PayloadSha256,
			UpdatedUtc = excluded.UpdatedUtc`,
		key.ProviderDhsCode, key.ProIdClaim, enc, hash, ts, ts)
	if err != nil {
		return fmt.Errorf("upsert payload %s: %w", key, err)
	}
	return nil
}

// GetPayload reads and decrypts a Claim body.
func (s *Store) GetPayload(ctx context.Context, key domain.ClaimKey) (domain.ClaimPayload, error) {
	var (
		p                domain.ClaimPayload
		enc              []byte
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT PayloadJson, PayloadSha256, PayloadVersion, CreatedUtc, UpdatedUtc
		FROM ClaimPayload WHERE ProviderDhsCode = ? AND ProIdClaim = ?`,
		key.ProviderDhsCode, key.ProIdClaim,
	).Scan(&enc, &p.PayloadSHA256, &p.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ClaimPayload{}, fmt.Errorf("get payload %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ClaimPayload{}, fmt.Errorf("get payload %s: %w", key, err)
	}

	if p.Payload, err = s.codec.Decrypt(enc); err != nil {
		return domain.ClaimPayload{}, fmt.Errorf("get payload %s: decrypt: %w", key, err)
	}
	p.Key = key
	if p.CreatedUtc, err = parseTime(created); err != nil {
		return domain.ClaimPayload{}, err
	}
	if p.UpdatedUtc, err = parseTime(updated); err != nil {
		return domain.ClaimPayload{}, err
	}
	return p, nil
}
