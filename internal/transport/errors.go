package transport

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable failure class of a send.
type ErrorKind int

const (
	// KindPermanent failures will not succeed on retry (blocked, chat not found, bad payload).
	// It is the zero value so that an unclassified SendError is never retried.
	KindPermanent ErrorKind = iota
	// KindTransient failures are expected to recover (timeouts, connectivity, flood control, 5xx).
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SendError is a classified transport failure.
type SendError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Reason
	}
	if e.Reason == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Reason + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error, reason string) error {
	return &SendError{Kind: KindTransient, Reason: reason, Err: err}
}

// Permanent wraps err as a terminal failure.
func Permanent(err error, reason string) error {
	return &SendError{Kind: KindPermanent, Reason: reason, Err: err}
}

// KindOf returns the classified kind of err.
// Errors without a SendError in their chain are permanent.
func KindOf(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindPermanent
}

// ReasonOf returns the classified reason, falling back to the error text.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var se *SendError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}
