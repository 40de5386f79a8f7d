// Package apperrors defines the closed error taxonomy shared by the OAuth
// engine, the provider adapters, and the HTTP boundary.
//
// Every failure category carries a machine-readable code, an HTTP status, an
// optional originating provider id, and a user-safe message. Raw provider
// responses and internal causes travel in the wrapped error and are logged
// server-side only — they are never returned to callers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code is a machine-readable error code.
type Code string

const (
	// Configuration errors.
	CodeUnknownProvider Code = "UNKNOWN_PROVIDER"
	CodeMissingConfig   Code = "MISSING_CONFIG"

	// Authorization flow errors.
	CodeInvalidState Code = "INVALID_STATE"
	CodeMissingCode  Code = "MISSING_CODE"
	CodeAccessDenied Code = "ACCESS_DENIED"

	// Token lifecycle errors.
	CodeExchangeFailed     Code = "EXCHANGE_FAILED"
	CodeRefreshFailed      Code = "REFRESH_FAILED"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenRevoked       Code = "TOKEN_REVOKED"

	// Identity errors.
	CodeIdentityFailed Code = "IDENTITY_FAILED"

	// Connection errors.
	CodeConnectionNotFound Code = "CONNECTION_NOT_FOUND"
	CodeConnectionExists   Code = "CONNECTION_EXISTS"

	// Security errors.
	CodeEncryptionFailed Code = "ENCRYPTION_FAILED"

	// Upstream errors.
	CodeProviderError Code = "PROVIDER_ERROR"
	CodeRateLimited   Code = "RATE_LIMITED"

	// Authentication errors.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Fallback for anything untyped crossing the engine boundary.
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the HTTP boundary responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidState, CodeMissingCode:
		return http.StatusBadRequest
	case CodeVerificationFailed, CodeTokenExpired, CodeTokenRevoked, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeUnknownProvider, CodeConnectionNotFound:
		return http.StatusNotFound
	case CodeConnectionExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeExchangeFailed, CodeRefreshFailed, CodeIdentityFailed, CodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed failure with a sanitized user-facing message.
type Error struct {
	Code     Code
	Provider string
	Message  string
	// RetryAfter carries the provider's retry hint for CodeRateLimited.
	RetryAfter time.Duration
	// Err holds the internal cause. Logged, never serialized to clients.
	Err error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Provider != "" {
		msg += " [" + e.Provider + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the boundary should respond with.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// New builds an Error with a user-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around an internal cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// FromProvider builds an Error attributed to a provider.
func FromProvider(code Code, providerID, message string, err error) *Error {
	return &Error{Code: code, Provider: providerID, Message: message, Err: err}
}

// RateLimited builds a CodeRateLimited error carrying the retry-after hint.
func RateLimited(providerID string, retryAfter time.Duration, err error) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Provider:   providerID,
		Message:    "provider rate limit exceeded, slow down",
		RetryAfter: retryAfter,
		Err:        err,
	}
}

// Internal folds an arbitrary error into the generic internal category so
// stack traces and raw payloads never leak past the engine boundary. A typed
// *Error passes through unchanged.
func Internal(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// CodeOf extracts the taxonomy code from an error chain, or CodeInternal for
// untyped errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Errorf builds an internal error from a format string, for failures that
// have no better category.
func Errorf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: fmt.Errorf(format, args...)}
}
