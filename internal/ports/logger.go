package ports

import "github.com/bft-labs/claimship/pkg/log"

// Logger is the structured logging port used by internal packages.
type Logger = log.Logger

// Field is a structured log field.
type Field = log.Field

// Field constructors re-exported for internal callers.
var (
	String   = log.String
	Int      = log.Int
	Int64    = log.Int64
	Float64  = log.Float64
	Bool     = log.Bool
	Duration = log.Duration
	Time     = log.Time
	Stringer = log.Stringer
	Err      = log.Err
	Any      = log.Any

	Claim    = log.Claim
	Claims   = log.Claims
	BatchID  = log.BatchID
	Holder   = log.Holder
	Worker   = log.Worker
	Provider = log.Provider
)
