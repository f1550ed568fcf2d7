package queue

import (
	"fmt"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Error is the kind of queue operation which failed. Errors returned by
// the queue wrap one of these values together with the underlying cause,
// so both can be tested with errors.Is.
type Error int

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	ErrConnection Error = iota + 1
	ErrProvisioning
	ErrPublish
	ErrClaim
	ErrComplete
	ErrProcess
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (e Error) Error() string {
	switch e {
	case ErrConnection:
		return "connection error"
	case ErrProvisioning:
		return "provisioning error"
	case ErrPublish:
		return "publish error"
	case ErrClaim:
		return "claim error"
	case ErrComplete:
		return "complete error"
	case ErrProcess:
		return "process error"
	}
	return fmt.Sprintf("queue error %d", int(e))
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// With wraps the cause of the error
func (e Error) With(err error) error {
	if err == nil {
		return e
	}
	return fmt.Errorf("%w: %w", e, err)
}

// Withf wraps the cause of the error, with additional context
func (e Error) Withf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", e, fmt.Sprintf(format, args...), err)
}
