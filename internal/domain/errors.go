package domain

import "errors"

var (
	// ErrInputInvalid rejects a malformed or empty source before any
	// process is spawned.
	ErrInputInvalid = errors.New("invalid torrent source")

	// ErrCancelled marks a user-initiated interrupt. It is a distinct
	// terminal transition, not a failure.
	ErrCancelled = errors.New("session cancelled")

	// ErrMediaNotFound is returned when no qualifying video file appeared
	// in the backend's output tree within the location timeout.
	ErrMediaNotFound = errors.New("no media file found")

	// ErrPlayerNotConfirmed is returned when no player process could be
	// confirmed alive after launch or splash transition.
	ErrPlayerNotConfirmed = errors.New("player process not confirmed alive")
)

// FatalError wraps a terminal session failure with remediation text shown
// to the user. Log-only diagnostics stay out of Remedy.
type FatalError struct {
	Err    error
	Remedy string
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal builds a FatalError with user-facing remediation advice.
func Fatal(err error, remedy string) *FatalError {
	return &FatalError{Err: err, Remedy: remedy}
}
