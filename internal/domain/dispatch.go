package domain

import "time"

// Dispatch is one outbound send attempt for Claims of one batch.
type Dispatch struct {
	ID              string
	ProviderDhsCode string
	BatchID         int64
	BcrID           string
	SequenceNo      int
	Type            DispatchType
	Status          DispatchStatus
	AttemptCount    int
	NextRetryUtc    *time.Time
	HTTPStatusCode  int
	LastError       string
	CorrelationID   string
	CreatedUtc      time.Time
	UpdatedUtc      time.Time
}

// DispatchItem is one Claim inside a Dispatch.
type DispatchItem struct {
	DispatchID   string
	Key          ClaimKey
	ItemOrder    int
	Result       ItemResult
	ErrorMessage string
}

// ItemOutcome reports the backend verdict for one Claim.
type ItemOutcome struct {
	Key          ClaimKey
	Result       ItemResult
	ErrorMessage string
}

// DispatchResult is what a completed send attempt records.
type DispatchResult struct {
	Status         DispatchStatus
	HTTPStatusCode int
	LastError      string
	CorrelationID  string
	Items          []ItemOutcome
}

// StatusFromOutcomes derives the dispatch status from item verdicts.
func StatusFromOutcomes(items []ItemOutcome) DispatchStatus {
	var ok, failed int
	for _, it := range items {
		switch it.Result {
		case ItemSuccess:
			ok++
		case ItemFail:
			failed++
		}
	}
	switch {
	case ok > 0 && failed == 0 && ok == len(items):
		return DispatchSucceeded
	case ok > 0:
		return DispatchPartiallySucceeded
	default:
		return DispatchFailed
	}
}
