package domain

import (
	"fmt"
	"time"
)

// ClaimKey identifies a Claim. ProIdClaim is unique per provider.
type ClaimKey struct {
	ProviderDhsCode string
	ProIdClaim      int64
}

func (k ClaimKey) String() string {
	return fmt.Sprintf("%s/%d", k.ProviderDhsCode, k.ProIdClaim)
}

// Claim is one source record moving through the pipeline.
type Claim struct {
	Key              ClaimKey
	CompanyCode      string
	MonthKey         string
	BatchID          *int64
	BcrID            string
	EnqueueStatus    EnqueueStatus
	CompletionStatus CompletionStatus

	// Lease fields. Both are set while EnqueueStatus is InFlight.
	LockedBy         string
	InFlightUntilUtc *time.Time

	AttemptCount    int
	NextRetryUtc    *time.Time
	LastError       string
	LastEnqueuedUtc *time.Time
	FirstSeenUtc    time.Time
	LastUpdatedUtc  time.Time
}

// Leased reports whether the Claim holds an unexpired lease at now.
func (c Claim) Leased(now time.Time) bool {
	return c.InFlightUntilUtc != nil && c.InFlightUntilUtc.After(now)
}

// RetryDue reports whether a Failed Claim may be picked up at now.
// A null NextRetryUtc counts as immediately due.
func (c Claim) RetryDue(now time.Time) bool {
	return c.NextRetryUtc == nil || !c.NextRetryUtc.After(now)
}

// StageClaim is the input for staging a discovered Claim.
type StageClaim struct {
	Key         ClaimKey
	CompanyCode string
	MonthKey    string
	BatchID     *int64
	BcrID       string
}

// LeaseRequest asks for up to Take eligible Claims of one provider.
type LeaseRequest struct {
	ProviderDhsCode string
	Holder          LeaseHolder
	Now             time.Time
	LeaseUntil      time.Time
	Take            int
	Eligible        []EnqueueStatus

	// RequireRetryDue excludes Claims whose NextRetryUtc is in the future.
	RequireRetryDue bool

	// BatchID optionally narrows the lease to one batch.
	BatchID *int64

	// OnlyIncomplete excludes Claims the backend has already completed.
	OnlyIncomplete bool

	// SkipUnscheduled excludes Claims with no retry time. A Failed Claim
	// marked without a delay waits for an operator; a manual retry stamps a
	// retry time and makes it eligible again.
	SkipUnscheduled bool
}

// Validate checks the request. An empty Eligible set or zero Take is not an
// error; it simply selects nothing.
func (r LeaseRequest) Validate() error {
	if r.ProviderDhsCode == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalidLease)
	}
	if !r.Holder.Valid() {
		return fmt.Errorf("%w: unknown holder %d", ErrInvalidLease, int(r.Holder))
	}
	if !r.LeaseUntil.After(r.Now) {
		return fmt.Errorf("%w: lease duration must be positive", ErrInvalidLease)
	}
	if r.Take < 0 {
		return fmt.Errorf("%w: take must not be negative", ErrInvalidLease)
	}
	for _, s := range r.Eligible {
		if !s.Valid() || s == EnqueueInFlight {
			return fmt.Errorf("%w: status %s is not leasable", ErrInvalidLease, s)
		}
	}
	return nil
}

// ClaimPayload is the encrypted-at-rest body of a Claim.
type ClaimPayload struct {
	Key           ClaimKey
	Payload       []byte
	PayloadSHA256 string
	Version       int
	CreatedUtc    time.Time
	UpdatedUtc    time.Time
}
