package domain

import "time"

// BatchKey is the natural key of a Batch.
type BatchKey struct {
	ProviderDhsCode string
	CompanyCode     string
	MonthKey        string
}

// Batch is one extraction window for a provider, payer and month.
type Batch struct {
	ID        int64
	Key       BatchKey
	PayerCode string
	BcrID     string
	Status    BatchStatus
	HasResume bool

	ProcessedCount int
	TotalCount     int

	LastError  string
	CreatedUtc time.Time
	UpdatedUtc time.Time
}

// BatchCounts summarizes the Claims of one batch.
type BatchCounts struct {
	Total    int
	Enqueued int
	Failed   int
}
