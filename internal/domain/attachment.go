package domain

import "time"

// Attachment is one file associated with a Claim. Exactly one of
// LocationPath, LocationBytes and AttachBitBase64 carries the content,
// matching SourceType.
type Attachment struct {
	ID         string
	Key        ClaimKey
	SourceType AttachmentSourceType

	LocationPath    string
	LocationBytes   []byte
	AttachBitBase64 []byte

	FileName    string
	ContentType string
	SizeBytes   int64
	SHA256      string

	OnlineURL    string
	UploadStatus UploadStatus
	AttemptCount int
	NextRetryUtc *time.Time
	LastError    string
	CreatedUtc   time.Time
	UpdatedUtc   time.Time
}

// ValidateSource enforces the single-source rule.
func (a Attachment) ValidateSource() error {
	populated := 0
	if a.LocationPath != "" {
		populated++
	}
	if len(a.LocationBytes) > 0 {
		populated++
	}
	if len(a.AttachBitBase64) > 0 {
		populated++
	}
	if populated != 1 {
		return ErrAttachmentSource
	}

	switch a.SourceType {
	case SourceFilePath:
		if a.LocationPath == "" {
			return ErrAttachmentSource
		}
	case SourceRawBytesInLocation:
		if len(a.LocationBytes) == 0 {
			return ErrAttachmentSource
		}
	case SourceBase64InAttachBit:
		if len(a.AttachBitBase64) == 0 {
			return ErrAttachmentSource
		}
	default:
		return ErrAttachmentSource
	}
	return nil
}
