package domain

import "time"

// MappingKey identifies a provider code value in one domain table.
type MappingKey struct {
	ProviderDhsCode string
	CompanyCode     string
	DomainTableID   int
	SourceValue     string
}

// MissingMapping is a source value observed without a known translation.
type MissingMapping struct {
	ID              int64
	Key             MappingKey
	DomainName      string
	DiscoverySource DiscoverySource
	Status          MappingStatus
	LastError       string
	DiscoveredUtc   time.Time
	LastPostedUtc   *time.Time
	LastUpdatedUtc  time.Time
}

// DomainMapping is an approved translation returned by the backend.
type DomainMapping struct {
	ID             int64
	Key            MappingKey
	DomainName     string
	TargetValue    string
	Status         MappingStatus
	DiscoveredUtc  time.Time
	LastPostedUtc  *time.Time
	LastUpdatedUtc time.Time
}
