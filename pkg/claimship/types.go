package claimship

import (
	"time"

	"github.com/bft-labs/claimship/internal/domain"
)

// Errors returned by Claimship. Match them with errors.Is.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrRecoveryFailed  = domain.ErrRecoveryFailed
)

// State represents the lifecycle state of a Claimship instance.
type State int

const (
	// StateStopped is the initial state and the state after a clean Stop.
	StateStopped State = iota
	// StateStarting covers crash recovery and plugin initialization.
	StateStarting
	// StateRunning means the pipeline loops are active.
	StateRunning
	// StateStopping means Stop is draining in-flight work.
	StateStopping
	// StateCrashed means startup failed or shutdown timed out. Start may
	// be called again.
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous  State
	Current   State
	Reason    string
	Timestamp time.Time
}

// ProgressEvent is one worker progress report.
type ProgressEvent struct {
	Worker     string
	Message    string
	Percentage *float64
	IsError    bool
	BatchID    *int64
	Processed  *int
	Total      *int
	BcrID      string
}

// RecoveryEvent reports the startup repair sweep.
type RecoveryEvent struct {
	RecoveredClaims     int64
	RecoveredDispatches int64
	Duration            time.Duration
}

// EventHandler receives Claimship events. Methods are called synchronously
// from worker goroutines and should return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnProgress(event ProgressEvent)
	OnRecovery(event RecoveryEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnProgress(ProgressEvent)       {}
func (BaseEventHandler) OnRecovery(RecoveryEvent)       {}

// Tunables are settings that may change while Claimship runs. Zero fields
// keep the current value.
type Tunables struct {
	PollInterval  time.Duration
	LeaseDuration time.Duration
	Take          int
	LogLevel      string
}
