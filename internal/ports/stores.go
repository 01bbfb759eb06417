package ports

import (
	"context"
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// LeaseManager hands out exclusive, time-boxed leases on Claims.
// There is no background expiry; an expired lease is only observed by the
// next Lease query or by crash recovery.
type LeaseManager interface {
	// Lease selects up to req.Take eligible Claims in ascending ProIdClaim
	// order and marks them InFlight in the same statement. An empty result
	// means no eligible work right now.
	Lease(ctx context.Context, req domain.LeaseRequest) ([]domain.ClaimKey, error)

	// Release returns Claims still leased by holder to the holder's restore
	// status without touching attempt counters.
	Release(ctx context.Context, holder domain.LeaseHolder, keys []domain.ClaimKey, now time.Time) error
}

// ClaimStore persists Claims and their retry bookkeeping.
// Every batch operation is atomic: all keys change or none do.
type ClaimStore interface {
	LeaseManager

	UpsertStagedClaim(ctx context.Context, c domain.StageClaim, now time.Time) error
	GetClaim(ctx context.Context, key domain.ClaimKey) (domain.Claim, error)
	ListClaimsByBatch(ctx context.Context, batchID int64) ([]domain.ClaimKey, error)

	MarkEnqueued(ctx context.Context, keys []domain.ClaimKey, bcrID string, now time.Time) error
	MarkFailed(ctx context.Context, keys []domain.ClaimKey, lastError string, now time.Time, nextRetryDelay *time.Duration) error
	SetCompletionStatus(ctx context.Context, keys []domain.ClaimKey, status domain.CompletionStatus, now time.Time) error
	IncrementAttempt(ctx context.Context, keys []domain.ClaimKey, now time.Time) error
	ScheduleManualRetry(ctx context.Context, keys []domain.ClaimKey, now time.Time) error

	CountClaimsByStatus(ctx context.Context, providerDhsCode string) (map[domain.EnqueueStatus]int, error)
}

// PayloadStore keeps the encrypted Claim bodies.
type PayloadStore interface {
	UpsertPayload(ctx context.Context, key domain.ClaimKey, payload []byte, now time.Time) error
	GetPayload(ctx context.Context, key domain.ClaimKey) (domain.ClaimPayload, error)
}

// BatchStore persists extraction windows.
type BatchStore interface {
	EnsureBatch(ctx context.Context, key domain.BatchKey, payerCode string, status domain.BatchStatus, now time.Time) (int64, error)
	FindBatch(ctx context.Context, key domain.BatchKey) (domain.Batch, error)
	GetBatch(ctx context.Context, id int64) (domain.Batch, error)
	GetBatchByBcrID(ctx context.Context, bcrID string) (domain.Batch, error)
	SetBatchBcrID(ctx context.Context, id int64, bcrID string, now time.Time) error
	UpdateBatchStatus(ctx context.Context, id int64, status domain.BatchStatus, hasResume *bool, lastError string, now time.Time) error
	UpdateBatchProgress(ctx context.Context, id int64, processed, total int, now time.Time) error
	ListBatchesByStatus(ctx context.Context, provider string, status domain.BatchStatus) ([]domain.Batch, error)
	BatchCounts(ctx context.Context, id int64) (domain.BatchCounts, error)
}

// DispatchStore persists send attempts and their items.
type DispatchStore interface {
	CreateDispatch(ctx context.Context, d domain.Dispatch, keys []domain.ClaimKey) (domain.Dispatch, error)
	GetDispatch(ctx context.Context, id string) (domain.Dispatch, error)
	ListDispatchItems(ctx context.Context, id string) ([]domain.DispatchItem, error)
	MarkDispatchInFlight(ctx context.Context, id string, now time.Time) error
	CompleteDispatch(ctx context.Context, id string, res domain.DispatchResult, now time.Time) error
	ScheduleDispatchRetry(ctx context.Context, id string, now time.Time, nextRetryDelay *time.Duration) error
}

// AttachmentStore persists Claim attachments.
type AttachmentStore interface {
	UpsertAttachment(ctx context.Context, a domain.Attachment) error
	GetAttachmentsByClaim(ctx context.Context, key domain.ClaimKey) ([]domain.Attachment, error)
	ListDueAttachments(ctx context.Context, now time.Time, limit int) ([]domain.Attachment, error)
	UpdateUploadStatus(ctx context.Context, id string, status domain.UploadStatus, onlineURL, lastError string, now time.Time, nextRetryDelay *time.Duration) error
}

// MappingStore persists missing and approved domain mappings.
type MappingStore interface {
	RecordMissingMapping(ctx context.Context, m domain.MissingMapping, now time.Time) error
	ListMappingsForPosting(ctx context.Context, providerDhsCode string) ([]domain.MissingMapping, error)
	MarkMappingsPosted(ctx context.Context, ids []int64, now time.Time) error
	MarkMappingsPostFailed(ctx context.Context, ids []int64, lastError string, now time.Time) error
	ApproveMapping(ctx context.Context, key domain.MappingKey, domainName, target string, now time.Time) error
	GetApprovedMapping(ctx context.Context, key domain.MappingKey) (domain.DomainMapping, error)
}

// ProviderStore persists provider connection profiles.
type ProviderStore interface {
	UpsertProviderProfile(ctx context.Context, p domain.ProviderProfile) error
	GetActiveProviderProfile(ctx context.Context, providerDhsCode string) (domain.ProviderProfile, error)
	SetProviderActive(ctx context.Context, providerCode string, active bool, now time.Time) error
}

// ValidationStore persists operator-facing data issues.
type ValidationStore interface {
	RecordValidationIssue(ctx context.Context, issue domain.ValidationIssue) (int64, error)
	ListOpenValidationIssues(ctx context.Context, providerDhsCode string) ([]domain.ValidationIssue, error)
	ResolveValidationIssue(ctx context.Context, id int64, resolvedBy string, now time.Time) error
}

// APICallStore persists telemetry records.
type APICallStore interface {
	InsertAPICalls(ctx context.Context, calls []domain.APICall) error
	ListRecentAPICalls(ctx context.Context, limit int) ([]domain.APICall, error)
}

// RecoveryResult counts the rows repaired by a recovery sweep.
type RecoveryResult struct {
	RecoveredClaims     int64
	RecoveredDispatches int64
}

// RecoveryStore runs the startup repair sweep in one transaction.
type RecoveryStore interface {
	RecoverAbandoned(ctx context.Context, now time.Time) (RecoveryResult, error)
}
