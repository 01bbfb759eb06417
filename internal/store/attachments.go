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

// UpsertAttachment stores an attachment with its content source encrypted.
// An attachment without an id reuses the row of the same claim and content
// hash, so re-staging a bundle does not duplicate it. Upload progress of an
// existing row is never regressed.
func (s *Store) UpsertAttachment(ctx context.Context, a domain.Attachment) error {
	if err := a.ValidateSource(); err != nil {
		return fmt.Errorf("upsert attachment: %w", err)
	}
	if a.UploadStatus == domain.UploadNotStaged {
		a.UploadStatus = domain.UploadStaged
	}
	if a.CreatedUtc.IsZero() {
		a.CreatedUtc = time.Now().UTC()
	}
	if a.UpdatedUtc.IsZero() {
		a.UpdatedUtc = a.CreatedUtc
	}

	path, err := s.encryptOptional([]byte(a.LocationPath))
	if err != nil {
		return fmt.Errorf("upsert attachment: encrypt path: %w", err)
	}
	raw, err := s.encryptOptional(a.LocationBytes)
	if err != nil {
		return fmt.Errorf("upsert attachment: encrypt bytes: %w", err)
	}
	b64, err := s.encryptOptional(a.AttachBitBase64)
	if err != nil {
		return fmt.Errorf("upsert attachment: encrypt base64: %w", err)
	}

	return s.withTx(ctx, "upsert attachment", func(tx *sql.Tx) error {
		if a.ID == "" && a.SHA256 != "" {
			err := tx.QueryRowContext(ctx, `
				SELECT AttachmentId FROM Attachment
				WHERE ProviderDhsCode = ? AND ProIdClaim = ? AND Sha256 = ?`,
				a.Key.ProviderDhsCode, a.Key.ProIdClaim, a.SHA256).Scan(&a.ID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup by hash: %w", err)
			}
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO Attachment (AttachmentId, ProviderDhsCode, ProIdClaim, AttachmentSourceType,
				LocationPathEncrypted, LocationBytesEncrypted, AttachBitBase64Encrypted,
				FileName, ContentType, SizeBytes, Sha256, UploadStatus, AttemptCount, CreatedUtc, UpdatedUtc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(AttachmentId) DO UPDATE SET
				AttachmentSourceType = excluded.AttachmentSourceType,
				LocationPathEncrypted = excluded.LocationPathEncrypted,
				LocationBytesEncrypted = excluded.LocationBytesEncrypted,
				AttachBitBase64Encrypted = excluded.AttachBitBase64Encrypted,
				FileName = excluded.FileName,
				ContentType = excluded.ContentType,
				SizeBytes = excluded.SizeBytes,
				Sha256 = excluded.Sha256,
				UpdatedUtc = excluded.UpdatedUtc`,
			a.ID, a.Key.ProviderDhsCode, a.Key.ProIdClaim, a.SourceType,
			path, raw, b64,
			nullString(a.FileName), nullString(a.ContentType), a.SizeBytes, nullString(a.SHA256),
			a.UploadStatus, formatTime(a.CreatedUtc), formatTime(a.UpdatedUtc))
		return err
	})
}

func (s *Store) encryptOptional(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return s.codec.Encrypt(b)
}

func (s *Store) decryptOptional(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return s.codec.Decrypt(b)
}

const attachmentColumns = `AttachmentId, ProviderDhsCode, ProIdClaim, AttachmentSourceType,
	LocationPathEncrypted, LocationBytesEncrypted, AttachBitBase64Encrypted,
	FileName, ContentType, SizeBytes, Sha256, OnlineUrlEncrypted, UploadStatus,
	AttemptCount, NextRetryUtc, LastError, CreatedUtc, UpdatedUtc`

func (s *Store) scanAttachment(row interface{ Scan(...any) error }) (domain.Attachment, error) {
	var (
		a                               domain.Attachment
		path, raw, b64, url             []byte
		fileName, contentType, sum, msg sql.NullString
		size                            sql.NullInt64
		nextRetry                       sql.NullString
		created, updated                string
	)
	err := row.Scan(&a.ID, &a.Key.ProviderDhsCode, &a.Key.ProIdClaim, &a.SourceType,
		&path, &raw, &b64, &fileName, &contentType, &size, &sum, &url, &a.UploadStatus,
		&a.AttemptCount, &nextRetry, &msg, &created, &updated)
	if err != nil {
		return domain.Attachment{}, err
	}

	plainPath, err := s.decryptOptional(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("decrypt path: %w", err)
	}
	a.LocationPath = string(plainPath)
	if a.LocationBytes, err = s.decryptOptional(raw); err != nil {
		return domain.Attachment{}, fmt.Errorf("decrypt bytes: %w", err)
	}
	if a.AttachBitBase64, err = s.decryptOptional(b64); err != nil {
		return domain.Attachment{}, fmt.Errorf("decrypt base64: %w", err)
	}
	plainURL, err := s.decryptOptional(url)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("decrypt url: %w", err)
	}
	a.OnlineURL = string(plainURL)

	a.FileName = fileName.String
	a.ContentType = contentType.String
	a.SizeBytes = size.Int64
	a.SHA256 = sum.String
	a.LastError = msg.String
	if a.NextRetryUtc, err = parseNullTime(nextRetry); err != nil {
		return domain.Attachment{}, err
	}
	if a.CreatedUtc, err = parseTime(created); err != nil {
		return domain.Attachment{}, err
	}
	if a.UpdatedUtc, err = parseTime(updated); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}

func (s *Store) queryAttachments(ctx context.Context, op, query string, args ...any) ([]domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.Attachment{}
	for rows.Next() {
		a, err := s.scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// GetAttachmentsByClaim lists the attachments of one Claim.
func (s *Store) GetAttachmentsByClaim(ctx context.Context, key domain.ClaimKey) ([]domain.Attachment, error) {
	return s.queryAttachments(ctx, "get attachments",
		`SELECT `+attachmentColumns+` FROM Attachment
		 WHERE ProviderDhsCode = ? AND ProIdClaim = ? ORDER BY CreatedUtc, AttachmentId`,
		key.ProviderDhsCode, key.ProIdClaim)
}

// ListDueAttachments returns Staged attachments and Failed ones whose retry
// time has come. A Failed row with no retry time is left for an operator.
func (s *Store) ListDueAttachments(ctx context.Context, now time.Time, limit int) ([]domain.Attachment, error) {
	if limit <= 0 {
		return []domain.Attachment{}, nil
	}
	return s.queryAttachments(ctx, "list due attachments",
		`SELECT `+attachmentColumns+` FROM Attachment
		 WHERE UploadStatus = ? OR (UploadStatus = ? AND NextRetryUtc IS NOT NULL AND NextRetryUtc <= ?)
		 ORDER BY CreatedUtc, AttachmentId LIMIT ?`,
		domain.UploadStaged, domain.UploadFailed, formatTime(now), limit)
}

// UpdateUploadStatus moves an attachment through its upload states. A
// Failed outcome counts an attempt and schedules the next one when a delay
// is given.
func (s *Store) UpdateUploadStatus(ctx context.Context, id string, status domain.UploadStatus, onlineURL, lastError string, now time.Time, nextRetryDelay *time.Duration) error {
	url, err := s.encryptOptional([]byte(onlineURL))
	if err != nil {
		return fmt.Errorf("update upload status: encrypt url: %w", err)
	}

	return s.withTx(ctx, "update upload status", func(tx *sql.Tx) error {
		var cur domain.UploadStatus
		err := tx.QueryRowContext(ctx, `SELECT UploadStatus FROM Attachment WHERE AttachmentId = ?`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("attachment %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !cur.CanTransitionTo(status) {
			return &domain.TransitionError{Entity: "attachment", Key: id, From: cur.String(), To: status.String()}
		}

		ts := formatTime(now)
		switch status {
		case domain.UploadFailed:
			_, err = tx.ExecContext(ctx, `
				UPDATE Attachment
				SET UploadStatus = ?, AttemptCount = AttemptCount + 1, LastError = ?, NextRetryUtc = ?, UpdatedUtc = ?
				WHERE AttachmentId = ?`,
				status, nullString(lastError), dueTime(now, nextRetryDelay), ts, id)
		case domain.UploadUploaded:
			_, err = tx.ExecContext(ctx, `
				UPDATE Attachment
				SET UploadStatus = ?, OnlineUrlEncrypted = ?, LastError = NULL, NextRetryUtc = NULL, UpdatedUtc = ?
				WHERE AttachmentId = ?`,
				status, url, ts, id)
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE Attachment SET UploadStatus = ?, UpdatedUtc = ? WHERE AttachmentId = ?`,
				status, ts, id)
		}
		return err
	})
}
