// Package errors defines custom error types and error handling utilities for
// the admitd admission gateway. Every rejection reason produced by the
// admission pipeline is a structured, recoverable error; nothing in this
// taxonomy is fatal to the process.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies an admission error.
type ErrorCode string

const (
	// CodeRateLimited marks a request denied by the rate limiter
	CodeRateLimited ErrorCode = "rate_limited"

	// CodeBanned marks a request from a banned user
	CodeBanned ErrorCode = "banned"

	// CodeInvalidTransition marks an event the session machine ignores
	CodeInvalidTransition ErrorCode = "invalid_transition"

	// CodeStoreUnavailable marks a backing store failure
	CodeStoreUnavailable ErrorCode = "store_unavailable"

	// CodeInvalidRequest marks malformed input
	CodeInvalidRequest ErrorCode = "invalid_request"

	// CodeInternal marks an unexpected internal failure
	CodeInternal ErrorCode = "internal_error"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// AdmitError represents a structured error with additional metadata.
type AdmitError interface {
	error

	// Code returns the machine readable error code
	Code() ErrorCode

	// Description returns a human-readable description
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) AdmitError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) AdmitError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// baseError is the internal implementation of AdmitError.
type baseError struct {
	code        ErrorCode
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
}

func (e *baseError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.description
}

func (e *baseError) Code() ErrorCode {
	return e.code
}

func (e *baseError) Description() string {
	return e.description
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) WithCause(cause error) AdmitError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) AdmitError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} {
	return e.metadata
}

// NewError creates a new AdmitError with the specified parameters.
func NewError(code ErrorCode, description string, message string) AdmitError {
	return &baseError{
		code:        code,
		description: description,
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrRateLimited creates a rate_limited error carrying the retry hint.
func ErrRateLimited(retryAfter time.Duration) AdmitError {
	return NewError(
		CodeRateLimited,
		"request rate exceeds the quota for this resource class",
		fmt.Sprintf("rate limited, retry after %s", retryAfter),
	).WithMetadata("retry_after", retryAfter)
}

// ErrBanned creates a banned error. The expiry is kept in metadata and is
// never surfaced to the end user verbatim.
func ErrBanned(until time.Time) AdmitError {
	return NewError(
		CodeBanned,
		"user is temporarily restricted",
		"banned",
	).WithMetadata("ban_until", until)
}

// ErrInvalidTransition creates an invalid_transition error for an event the
// current session state does not accept.
func ErrInvalidTransition(state string, eventType string) AdmitError {
	return NewError(
		CodeInvalidTransition,
		"event not accepted in the current workflow state",
		fmt.Sprintf("state %q ignores event %q", state, eventType),
	).WithMetadata("state", state).WithMetadata("event_type", eventType)
}

// ErrStoreUnavailable creates a store_unavailable error.
func ErrStoreUnavailable(cause error) AdmitError {
	return NewError(
		CodeStoreUnavailable,
		"backing store is unavailable",
		"store unavailable",
	).WithCause(cause)
}

// ErrInvalidRequest creates an invalid_request error.
func ErrInvalidRequest(message string) AdmitError {
	return NewError(CodeInvalidRequest, "request is malformed", message)
}

// ErrInternal wraps an unexpected failure.
func ErrInternal(cause error) AdmitError {
	return NewError(CodeInternal, "internal error", "internal error").WithCause(cause)
}

// ================================================================================
// Inspection Helpers
// ================================================================================

// CodeOf extracts the ErrorCode from any error, returning CodeInternal for
// errors outside this taxonomy.
func CodeOf(err error) ErrorCode {
	var ae AdmitError
	if errors.As(err, &ae) {
		return ae.Code()
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// RetryAfter extracts the retry hint from a rate_limited error, or zero.
func RetryAfter(err error) time.Duration {
	var ae AdmitError
	if !errors.As(err, &ae) {
		return 0
	}
	if d, ok := ae.Metadata()["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

// BanExpiry extracts the ban expiry from a banned error.
func BanExpiry(err error) (time.Time, bool) {
	var ae AdmitError
	if !errors.As(err, &ae) {
		return time.Time{}, false
	}
	t, ok := ae.Metadata()["ban_until"].(time.Time)
	return t, ok
}
