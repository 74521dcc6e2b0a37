// Package errs defines the sequencer's error taxonomy shared by every
// component in the write path, from validation through the transport
// boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a sequencer error along the lines an RPC boundary cares
// about: whether a caller should retry, retry elsewhere, or give up.
type Kind int

const (
	// InvalidRequest marks a malformed submission; never retry.
	InvalidRequest Kind = iota
	// Refused marks a business-rule rejection; no retry.
	Refused
	// Overloaded marks backpressure; retry with jitter.
	Overloaded
	// ShuttingDown marks a transient rejection during shutdown; retry elsewhere.
	ShuttingDown
	// Unavailable marks a transport/store outage; retry.
	Unavailable
	// InternalError marks an invariant violation fatal to the instance.
	InternalError
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case Refused:
		return "refused"
	case Overloaded:
		return "overloaded"
	case ShuttingDown:
		return "shutting_down"
	case Unavailable:
		return "unavailable"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// SequencerError is the concrete error type returned by every component.
type SequencerError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *SequencerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SequencerError) Unwrap() error { return e.Cause }

// New constructs a SequencerError with no wrapped cause.
func New(kind Kind, message string) *SequencerError {
	return &SequencerError{Kind: kind, Message: message}
}

// Wrap constructs a SequencerError carrying the original cause.
func Wrap(kind Kind, message string, cause error) *SequencerError {
	return &SequencerError{Kind: kind, Message: message, Cause: cause}
}

// As reports whether err (or any error it wraps) is a *SequencerError and,
// if so, returns it.
func As(err error) (*SequencerError, bool) {
	var se *SequencerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is a SequencerError, or InternalError
// for any other non-nil error.
func KindOf(err error) Kind {
	if err == nil {
		return Kind(-1)
	}
	if se, ok := As(err); ok {
		return se.Kind
	}
	return InternalError
}

// Sentinel errors for conditions callers frequently need to branch on by
// identity rather than by Kind.
var (
	// ErrCounterConflict signals Store.save_events rejected a batch whose
	// leading counter did not match the next expected counter.
	ErrCounterConflict = errors.New("counter conflict: split-brain writer detected")
	// ErrPayloadConflict signals Store.save_payloads rejected a PayloadId
	// reused by a different instance discriminator.
	ErrPayloadConflict = errors.New("payload id already written by another instance")
	// ErrWatermarkRegression signals a save_watermark call attempted to move
	// the watermark backwards.
	ErrWatermarkRegression = errors.New("watermark regression rejected")
)
