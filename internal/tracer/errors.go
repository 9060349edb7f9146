package tracer

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/finecov/internal/host"
)

var (
	// ErrMalformedPayload is returned when a notification payload does not
	// have the shape its code requires.
	ErrMalformedPayload = errors.New("malformed notification payload")
	// ErrInvalidHandle is returned when the bridge cannot recover the
	// observer or frame behind a handle.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrObserverBusy is returned when deregistering an observer whose
	// callback is still on the call stack.
	ErrObserverBusy = errors.New("observer callback in progress")
)

// UnknownEventCodeError is returned for notification codes outside the
// recognized set.
type UnknownEventCodeError struct {
	Code int32
}

func (e *UnknownEventCodeError) Error() string {
	return fmt.Sprintf("unknown event code %d", e.Code)
}

// ObserverError wraps a failure returned by an observer's Trace.
type ObserverError struct {
	Kind Kind
	Err  error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer failed on %s event: %v", e.Kind, e.Err)
}

func (e *ObserverError) Unwrap() error {
	return e.Err
}

// RegistrationError wraps a failure reported by the host while installing
// or clearing a callback slot.
type RegistrationError struct {
	Family host.Family
	Op     string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s %s observer: %v", e.Op, e.Family, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
