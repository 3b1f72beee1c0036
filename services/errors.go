package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeLocked             ErrorType = "locked"
	ErrorTypeUnauthorized       ErrorType = "unauthorized"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
)

// DomainError represents a structured error with additional context.
// Code is the stable machine-readable reason; Message is safe to return to callers.
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Code, so a wrapped copy of a sentinel still satisfies errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap returns a copy of the error carrying cause. The sentinel itself is never mutated.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     cause,
	}
}

// Status returns the HTTP status code for the error
func (e *DomainError) Status() int {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeLocked:
		return http.StatusTooManyRequests
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, code, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// tokenRejectedMessage is shared by every token failure so callers cannot tell
// revoked, expired and forged tokens apart.
const tokenRejectedMessage = "Invalid or expired token"

var (
	// Throttling
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate_limit_exceeded", "Too many requests, please retry later", nil)
	ErrClientLocked      = NewDomainError(ErrorTypeLocked, "too_many_failed_attempts", "Too many failed authentication attempts, please retry later", nil)

	// Authentication
	ErrMissingCredential  = NewDomainError(ErrorTypeUnauthorized, "missing_credential", "Missing or malformed authorization header", nil)
	ErrMalformedToken     = NewDomainError(ErrorTypeUnauthorized, "malformed_token", tokenRejectedMessage, nil)
	ErrTokenRevoked       = NewDomainError(ErrorTypeUnauthorized, "token_revoked", tokenRejectedMessage, nil)
	ErrTokenExpired       = NewDomainError(ErrorTypeUnauthorized, "token_expired", tokenRejectedMessage, nil)
	ErrSignatureInvalid   = NewDomainError(ErrorTypeUnauthorized, "signature_invalid", tokenRejectedMessage, nil)
	ErrSubjectMismatch    = NewDomainError(ErrorTypeUnauthorized, "subject_mismatch", tokenRejectedMessage, nil)
	ErrPrincipalNotFound  = NewDomainError(ErrorTypeUnauthorized, "principal_not_found", tokenRejectedMessage, nil)
	ErrPrincipalDisabled  = NewDomainError(ErrorTypeUnauthorized, "principal_disabled", tokenRejectedMessage, nil)
	ErrInvalidCredentials = NewDomainError(ErrorTypeUnauthorized, "invalid_credentials", "Invalid username or password", nil)

	// Authorization
	ErrInsufficientRole = NewDomainError(ErrorTypeForbidden, "insufficient_role", "Insufficient permissions", nil)
	ErrOriginNotAllowed = NewDomainError(ErrorTypeForbidden, "origin_not_allowed", "Origin not allowed", nil)

	// Validation
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid_input", "Invalid request", nil)

	// Internal
	ErrInternal            = NewDomainError(ErrorTypeInternal, "internal_error", "An internal error occurred", nil)
	ErrUpstreamUnavailable = NewDomainError(ErrorTypeServiceUnavailable, "upstream_unavailable", "Service temporarily unavailable", nil)
)

// IsAuthenticationFailure reports whether err should count against the client's
// failed-attempt record. Authorization and throttling failures do not.
func IsAuthenticationFailure(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsRateLimitError checks if an error is a throttling error (rate limit or lockout)
func IsRateLimitError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeRateLimit || domainErr.Type == ErrorTypeLocked
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// AsDomainError returns the DomainError carried by err. Anything else is
// reported as ErrInternal wrapping the original error.
func AsDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return ErrInternal.Wrap(err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return ErrInternal.Wrap(fmt.Errorf("%s: %w", message, err))
}
