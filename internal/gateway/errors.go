package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed store operation. Consumers branch on the
// kind, never on status codes or message text.
type ErrorKind string

const (
	// KindUnauthenticated means the call required a session that is absent
	// or expired. Surfaced as a sign-in prompt, never retried.
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindValidation means the store rejected the request as malformed or
	// impossible (e.g. quantity above stock). Expected, non-exceptional.
	KindValidation ErrorKind = "validation"
	// KindConflict means a concurrent mutation beat this request.
	KindConflict ErrorKind = "conflict"
	// KindNotFound means the referenced entity no longer exists.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited means the store asked the client to back off.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransport covers network failures and malformed responses; the
	// outcome of the attempted mutation is unknown.
	KindTransport ErrorKind = "transport"
)

// StoreError is the canonical failure returned by every gateway operation.
type StoreError struct {
	Kind    ErrorKind
	Message string
	// Fields carries field-level messages from structured backend
	// validation payloads, keyed by field name.
	Fields map[string]string
	cause  error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("store %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("store %s", e.Kind)
}

// Unwrap exposes the underlying transport error when present.
func (e *StoreError) Unwrap() error { return e.cause }

// NewValidationError builds a validation-kind error with optional field detail.
func NewValidationError(message string, fields map[string]string) *StoreError {
	return &StoreError{Kind: KindValidation, Message: strings.TrimSpace(message), Fields: fields}
}

// NewUnauthenticatedError builds an unauthenticated-kind error.
func NewUnauthenticatedError(message string) *StoreError {
	return &StoreError{Kind: KindUnauthenticated, Message: strings.TrimSpace(message)}
}

// NewTransportError wraps a network-level failure.
func NewTransportError(err error) *StoreError {
	return &StoreError{Kind: KindTransport, Message: "store unreachable", cause: err}
}

// KindOf extracts the error kind, defaulting unknown errors to transport.
func KindOf(err error) ErrorKind {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Kind
	}
	return KindTransport
}

// IsValidation reports whether the error is an expected validation rejection.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsUnauthenticated reports whether the call lacked a session.
func IsUnauthenticated(err error) bool { return KindOf(err) == KindUnauthenticated }

// IsTransport reports whether the failure leaves the remote outcome unknown.
func IsTransport(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Kind == KindTransport || storeErr.Kind == KindRateLimited
	}
	return true
}

// FieldErrors returns the field-level messages from a structured validation
// failure, or nil.
func FieldErrors(err error) map[string]string {
	var storeErr *StoreError
	if errors.As(err, &storeErr) && len(storeErr.Fields) > 0 {
		out := make(map[string]string, len(storeErr.Fields))
		for k, v := range storeErr.Fields {
			out[k] = v
		}
		return out
	}
	return nil
}
