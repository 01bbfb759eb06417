package domain

// LeaseHolder identifies which pipeline stage holds a Claim lease.
// The holder decides what an abandoned lease is restored to.
type LeaseHolder int

const (
	HolderSender LeaseHolder = iota + 1
	HolderRetry
	HolderRequeue
)

// String returns the name persisted in Claim.LockedBy.
func (h LeaseHolder) String() string {
	switch h {
	case HolderSender:
		return "Sender"
	case HolderRetry:
		return "Retry"
	case HolderRequeue:
		return "Requeue"
	default:
		return ""
	}
}

// Valid reports whether h is one of the known holder roles.
func (h LeaseHolder) Valid() bool {
	return h >= HolderSender && h <= HolderRequeue
}

// RestoreStatus is the EnqueueStatus a Claim returns to when this holder's
// lease is released or expires.
func (h LeaseHolder) RestoreStatus() EnqueueStatus {
	switch h {
	case HolderSender:
		return EnqueueNotSent
	case HolderRetry:
		return EnqueueFailed
	case HolderRequeue:
		return EnqueueEnqueued
	default:
		return EnqueueNotSent
	}
}

// LeaseHolders lists every holder role.
func LeaseHolders() []LeaseHolder {
	return []LeaseHolder{HolderSender, HolderRetry, HolderRequeue}
}

// ParseLeaseHolder maps a persisted LockedBy value back to a holder.
func ParseLeaseHolder(s string) (LeaseHolder, bool) {
	for _, h := range LeaseHolders() {
		if h.String() == s {
			return h, true
		}
	}
	return 0, false
}

// FallbackRestoreStatus applies to a lease whose LockedBy is not a known
// holder: a Claim that was attempted before keeps its retry eligibility,
// anything else is treated as never sent.
func FallbackRestoreStatus(attemptCount int) EnqueueStatus {
	if attemptCount > 0 {
		return EnqueueFailed
	}
	return EnqueueNotSent
}

// RestoreStatusFor resolves the restore target for a persisted LockedBy value.
func RestoreStatusFor(lockedBy string, attemptCount int) EnqueueStatus {
	if h, ok := ParseLeaseHolder(lockedBy); ok {
		return h.RestoreStatus()
	}
	return FallbackRestoreStatus(attemptCount)
}
