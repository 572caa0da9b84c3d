// Package apperr defines the domain error taxonomy shared by every service.
// Expected conditions are returned as *Error with a machine-readable Code and a
// human-readable Message; anything unexpected is wrapped with Internal so the
// cause can be logged without leaking it to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error classification.
type Code string

const (
	NotFound        Code = "NOT_FOUND"
	AlreadyExists   Code = "ALREADY_EXISTS"
	HasDependencies Code = "HAS_DEPENDENCIES"
	InvalidInput    Code = "INVALID_INPUT"
	SessionStale    Code = "SESSION_STALE"
	SessionBlocked  Code = "SESSION_BLOCKED"
	NoTarget        Code = "NO_TARGET"
	Internal        Code = "INTERNAL"
)

// Error is a domain error.
type Error struct {
	Code    Code
	Message string
	// Details carries a structured payload for codes that need one, such as
	// the stale sessions behind SESSION_BLOCKED.
	Details any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: NotFound})
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, HasDependencies, SessionStale, SessionBlocked:
		return http.StatusConflict
	case InvalidInput:
		return http.StatusBadRequest
	case NoTarget:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails attaches a structured payload and returns e.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// New returns an error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf is shorthand for New(NotFound, ...).
func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, format, args...)
}

// Invalidf is shorthand for New(InvalidInput, ...).
func Invalidf(format string, args ...any) *Error {
	return New(InvalidInput, format, args...)
}

// Wrap converts err into an INTERNAL error unless it already is a domain
// error, in which case it is returned unchanged.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: Internal, Message: "internal error", Cause: err}
}

// CodeOf classifies any error. Non-domain errors are INTERNAL.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// As returns the domain error in err's chain, wrapping non-domain errors as
// INTERNAL.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Internal, Message: "internal error", Cause: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
