package domain

import "time"

// ProviderProfile describes how to reach one provider's source database.
// At most one profile per ProviderDhsCode is active.
type ProviderProfile struct {
	ProviderCode     string
	ProviderDhsCode  string
	DBEngine         string
	IntegrationType  string
	ConnectionString string
	EncryptionKeyID  string
	IsActive         bool
	CreatedUtc       time.Time
	UpdatedUtc       time.Time
}

// ValidationIssue is a terminal data problem surfaced to an operator.
type ValidationIssue struct {
	ID              int64
	ProviderDhsCode string
	ProIdClaim      *int64
	IssueType       string
	FieldPath       string
	RawValue        string
	Message         string
	IsBlocking      bool
	CreatedUtc      time.Time
	ResolvedUtc     *time.Time
	ResolvedBy      string
}

// APICall is one outbound request outcome. It carries no PHI.
type APICall struct {
	ProviderDhsCode string
	EndpointName    string
	CorrelationID   string
	RequestUtc      time.Time
	ResponseUtc     *time.Time
	Duration        time.Duration
	HTTPStatusCode  int
	Succeeded       bool
	ErrorMessage    string
	RequestBytes    int64
	ResponseBytes   int64
	WasGzipRequest  bool
}

// ProgressReport is one worker progress event.
type ProgressReport struct {
	WorkerID   string
	Message    string
	Percentage *float64
	IsError    bool
	BatchID    *int64
	Processed  *int
	Total      *int
	BcrID      string
}
