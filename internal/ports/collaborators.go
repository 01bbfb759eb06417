package ports

import (
	"context"
	"io"
	"net/http"

	"github.com/bft-labs/claimship/internal/domain"
)

// HTTPClient abstracts HTTP operations for dependency injection.
// *http.Client satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ErrNoBundle is returned by ExtractionSource.Next when nothing is pending.
// The caller should poll and retry.
var ErrNoBundle = io.EOF

// BundleClaim is one extracted Claim inside a bundle.
type BundleClaim struct {
	ProIdClaim  int64
	Payload     []byte
	Attachments []domain.Attachment
}

// ClaimBundle is what the provider extraction adapter hands over for one
// (provider, payer, month) window. The engine never sees the provider schema.
type ClaimBundle struct {
	// ID identifies the bundle for Ack.
	ID string

	Batch           domain.BatchKey
	PayerCode       string
	Claims          []BundleClaim
	MissingMappings []domain.MissingMapping
}

// ExtractionSource supplies claim bundles from the provider database.
type ExtractionSource interface {
	// Next returns the next pending bundle or ErrNoBundle.
	Next(ctx context.Context) (ClaimBundle, error)

	// Ack marks a bundle as staged so it is not returned again.
	Ack(ctx context.Context, bundle ClaimBundle) error
}

// SendClaim is one Claim body in an outbound send.
type SendClaim struct {
	Key     domain.ClaimKey
	Payload []byte
}

// SendRequest is one Dispatch on the wire.
type SendRequest struct {
	DispatchID      string
	ProviderDhsCode string
	BatchID         int64
	BcrID           string
	Type            domain.DispatchType
	Claims          []SendClaim
}

// SendResult is the normalized backend answer to a SendRequest.
type SendResult struct {
	Succeeded     bool
	StatusCode    int
	CorrelationID string
	Error         string
	Items         []domain.ItemOutcome
}

// ResumeResult reports which Claims of a batch the backend has finished.
type ResumeResult struct {
	Completed  []int64
	Incomplete []int64
}

// BackendClient is the outbound API used by the pipeline. A returned error
// is a transport failure; a non-success result is a backend rejection. Both
// are candidates for retry.
type BackendClient interface {
	CreateBatch(ctx context.Context, b domain.Batch, claimCount int) (bcrID string, err error)
	SendClaims(ctx context.Context, req SendRequest) (SendResult, error)
	ResumeStatus(ctx context.Context, bcrID string) (ResumeResult, error)
}

// AttachmentUploader moves attachment content to blob storage.
type AttachmentUploader interface {
	UploadAttachment(ctx context.Context, a domain.Attachment, content []byte) (onlineURL string, err error)
}

// MappingPoster posts missing domain mappings upstream. Any translations the
// backend resolves immediately are returned.
type MappingPoster interface {
	PostMissingMappings(ctx context.Context, providerDhsCode string, mappings []domain.MissingMapping) ([]domain.DomainMapping, error)
}

// ColumnEncryptor encrypts payloads before they reach the store.
type ColumnEncryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ProgressSink receives worker progress events. Delivery is fire-and-forget.
type ProgressSink interface {
	Report(r domain.ProgressReport)
}

// APICallRecorder accepts telemetry without blocking the caller.
type APICallRecorder interface {
	Record(call domain.APICall)
}
