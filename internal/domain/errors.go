package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the claimship domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("claimship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("claimship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("claimship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("claimship: invalid configuration")

	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("claimship: not found")

	// ErrIllegalTransition is returned when an entity is moved to a state
	// that is not a legal successor of its current state.
	ErrIllegalTransition = errors.New("claimship: illegal state transition")

	// ErrInvalidLease is returned for a malformed lease request.
	ErrInvalidLease = errors.New("claimship: invalid lease request")

	// ErrAttachmentSource is returned when an attachment does not carry
	// exactly one content source.
	ErrAttachmentSource = errors.New("claimship: attachment must have exactly one content source")

	// ErrPoolClosed is returned when submitting to a closed worker pool.
	ErrPoolClosed = errors.New("claimship: worker pool closed")

	// ErrRecoveryFailed is returned when the startup recovery transaction
	// cannot commit. Startup must abort.
	ErrRecoveryFailed = errors.New("claimship: crash recovery failed")
)

// TransitionError describes a rejected state change.
type TransitionError struct {
	Entity string
	Key    string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("claimship: illegal %s transition for %s: %s -> %s", e.Entity, e.Key, e.From, e.To)
	}
	return fmt.Sprintf("claimship: illegal %s transition: %s -> %s", e.Entity, e.From, e.To)
}

// LogFields exposes the transition to structured loggers.
func (e *TransitionError) LogFields() map[string]string {
	f := map[string]string{"entity": e.Entity, "from": e.From, "to": e.To}
	if e.Key != "" {
		f["key"] = e.Key
	}
	return f
}

// Unwrap lets errors.Is match ErrIllegalTransition.
func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// IsIllegalTransition reports whether err is (or wraps) a rejected transition.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}
