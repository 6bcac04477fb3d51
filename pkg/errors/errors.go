package errors

import (
	"fmt"
)

// Kind classifies a harness error by the stage it belongs to. The kind
// decides whether a failure aborts the whole run or stays local to a
// single virtual user.
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindConnection    Kind = "CONNECTION"
	KindProtocol      Kind = "PROTOCOL"
	KindMedia         Kind = "MEDIA"
	KindStatsSink     Kind = "STATS_SINK"
	KindInternal      Kind = "INTERNAL"
)

// Error is a harness error with a kind and optional context
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new harness error
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a kind
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors
func NewConfigurationError(message string) *Error {
	return New(KindConfiguration, message)
}

func NewConnectionError(message string, cause error) *Error {
	return Wrap(cause, KindConnection, message)
}

func NewProtocolError(message string, cause error) *Error {
	return Wrap(cause, KindProtocol, message)
}

func NewMediaError(message string, cause error) *Error {
	return Wrap(cause, KindMedia, message)
}

func NewStatsSinkError(message string, cause error) *Error {
	return Wrap(cause, KindStatsSink, message)
}

// KindOf extracts the kind from an error chain, KindInternal when the
// chain carries no harness error.
func KindOf(err error) Kind {
	he := GetError(err)
	if he == nil {
		return KindInternal
	}
	return he.Kind
}

// IsFatalDuringRampUp reports whether an error of this kind must abort
// the whole fleet start. Configuration and stats-sink errors are raised
// before any user starts; connection and protocol errors during ramp-up
// fail fast for the remaining users. Media errors only surface after a
// user is streaming and stay local to that user.
func IsFatalDuringRampUp(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindConnection, KindProtocol, KindStatsSink:
		return true
	}
	return false
}

// GetError extracts a harness Error from an error chain
func GetError(err error) *Error {
	if err == nil {
		return nil
	}

	if he, ok := err.(*Error); ok {
		return he
	}

	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetError(u.Unwrap())
	}

	return nil
}
