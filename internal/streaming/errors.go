package streaming

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the streaming service. Callers classify with errors.Is.
var (
	// ErrNotFound is returned for unknown media, sessions, variants or segments.
	ErrNotFound = errors.New("not found")
	// ErrResourceExhausted is returned when no encode slot frees up in time.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrConflict is returned when a seek races a stop of the same session.
	ErrConflict = errors.New("conflict")
	// ErrUpstreamFailure is returned when the encode process crashes or exits non-zero.
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrTimeout is returned when the first segment is not produced in time.
	ErrTimeout = errors.New("timeout")
	// ErrCorrupt is returned when a keyframe index cannot be built.
	ErrCorrupt = errors.New("corrupt media")
	// ErrNotIndexed is returned by KeyframeIndex lookups before an index exists.
	ErrNotIndexed = errors.New("keyframe index not built")
	// ErrClosed is returned once the service is shutting down.
	ErrClosed = errors.New("streaming service closed")
)

// WorkerError records why a transcode worker left the happy path.
type WorkerError struct {
	Kind error
	Op   string
	Err  error
}

func (e *WorkerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *WorkerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kindOf returns the first error kind err matches, defaulting to ErrUpstreamFailure.
func kindOf(err error) error {
	for _, kind := range []error{
		ErrNotFound, ErrResourceExhausted, ErrConflict, ErrTimeout, ErrCorrupt, ErrClosed, ErrUpstreamFailure,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUpstreamFailure
}
