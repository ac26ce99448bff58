package ecuflash

import (
	"errors"
	"fmt"
	"time"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	// ErrNotConnected is returned by Send on a transport without a link.
	ErrNotConnected = errors.New("transport not connected")
	// ErrNoResponse means a Receive yielded zero bytes. A disconnected
	// transport and a device answering with nothing look the same.
	ErrNoResponse        = errors.New("empty response from transport")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrCancelled         = errors.New("operation cancelled")
	ErrTransportBusy     = errors.New("transport already has a flash in progress")
	ErrNilTransport      = errors.New("transport is nil")
)

// TimeoutError is returned when a response wait exceeds its deadline.
type TimeoutError struct {
	Timeout time.Duration
	Service byte
	Type    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout (%dms) waiting for response to service 0x%02X", e.Type, e.Timeout.Milliseconds(), e.Service)
}

// IsTimeout reports whether err carries a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
