// Package lookuperr defines the error taxonomy the accounts proxy uses to
// classify every failure that can occur while serving a lookup: record not
// found, upstream/backend failure, rate-limit exhaustion, and server
// lifecycle misuse. It follows the shape of a ServiceError-style error
// (kind, message, wrapped cause, details), collapsed to the handful of
// kinds this proxy's wire protocol needs to distinguish.
package lookuperr

import (
	"errors"
	"fmt"
)

// Kind classifies a lookup failure.
type Kind string

const (
	// NotFound means the requested user, group, or key set does not
	// exist, neither in cache nor upstream.
	NotFound Kind = "not_found"
	// Backend means the upstream Compute Accounts API or the GCE
	// metadata server returned an error, a malformed response, or a
	// transport failure.
	Backend Kind = "backend"
	// OutOfQuota means the local token bucket has no quota left to send
	// the upstream request.
	OutOfQuota Kind = "out_of_quota"
	// AlreadyServing means Start was called on a proxy that is already
	// serving requests.
	AlreadyServing Kind = "already_serving"
	// NotServing means Shutdown was called on a proxy that is not
	// currently serving requests.
	NotServing Kind = "not_serving"
)

// Error is the single error type every package in this module returns for
// domain failures. It carries a Kind for dispatch, a human-readable
// message, an optional wrapped cause, and optional structured detail
// fields for logging.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail field and returns the receiver
// for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an Error with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFoundf builds a NotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, format, args...)
}

// Backendf builds a Backend error with no wrapped cause.
func Backendf(format string, args ...interface{}) *Error {
	return New(Backend, format, args...)
}

// WrapBackend wraps err as a Backend error.
func WrapBackend(err error, format string, args ...interface{}) *Error {
	return Wrap(Backend, err, format, args...)
}

// OutOfQuotaf builds an OutOfQuota error. waitSeconds is attached as a
// detail field so callers can report it without re-parsing the message.
func OutOfQuotaf(waitSeconds float64, format string, args ...interface{}) *Error {
	return New(OutOfQuota, format, args...).WithDetail("wait_seconds", waitSeconds)
}

// AlreadyServingf builds an AlreadyServing error.
func AlreadyServingf(format string, args ...interface{}) *Error {
	return New(AlreadyServing, format, args...)
}

// NotServingf builds a NotServing error.
func NotServingf(format string, args ...interface{}) *Error {
	return New(NotServing, format, args...)
}

// Is reports whether err is a lookuperr.Error of the given Kind.
func Is(err error, kind Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}

// As extracts the *Error from err's chain, if present.
func As(err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return nil
}

// StatusCode maps a Kind to the three-digit status code the socket
// protocol writes as the first line of a response.
func StatusCode(err error) string {
	le := As(err)
	if le == nil {
		return "500"
	}
	switch le.Kind {
	case NotFound:
		return "404"
	default:
		return "500"
	}
}
