package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned for missing or malformed start input.
	ErrInvalidRequest = errors.New("invalid stream request")

	// ErrNotOffline is returned when start is called while a session is
	// preparing or live.
	ErrNotOffline = errors.New("a stream is already in progress")

	// ErrNotRunning is returned when stop is called while offline.
	ErrNotRunning = errors.New("no stream is running")

	// ErrAlreadyRunning is returned when the encoder slot is still occupied,
	// typically by a process that is shutting down after a stop.
	ErrAlreadyRunning = errors.New("encoder process still running, retry shortly")

	// ErrSpawnFailure is returned when the encoder could not be launched.
	ErrSpawnFailure = errors.New("failed to launch encoder")

	// ErrRuntimeFailure marks a stream that ended with a non-zero exit or an
	// output read error.
	ErrRuntimeFailure = errors.New("encoder failed while streaming")

	// errStaleSession is returned by the state machine for events that belong
	// to an earlier cycle.
	errStaleSession = errors.New("event for a previous session")
)

// RequestError describes which part of a StreamRequest was rejected.
// It matches ErrInvalidRequest with errors.Is.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}
