// Package errors provides the standardized error type shared by the adoption service, the HTTP API
// and the job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Business errors. Never retried.
const (
	// ErrCodeInvalidTransition: the requested status change is not allowed from the current state.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	// ErrCodeDuplicateApplication: the adopter already has an active application for the pet.
	ErrCodeDuplicateApplication ErrorCode = "DUPLICATE_APPLICATION"
	// ErrCodeSlotConflict: the requested interview window overlaps an active booking.
	ErrCodeSlotConflict ErrorCode = "SLOT_CONFLICT"
	// ErrCodeNotPending: the adopter already answered this interview.
	ErrCodeNotPending ErrorCode = "NOT_PENDING"
	ErrCodeForbidden  ErrorCode = "FORBIDDEN"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	// ErrCodeValidationFailed: input is malformed or incomplete.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodePetUnavailable   ErrorCode = "PET_UNAVAILABLE"
	ErrCodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
)

// Infrastructure errors.
const (
	ErrCodeDatabaseError          ErrorCode = "DATABASE_ERROR"
	ErrCodeCacheError             ErrorCode = "CACHE_ERROR"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeIdentityProviderError  ErrorCode = "IDENTITY_PROVIDER_ERROR"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error { return e.cause }

// Is lets errors.Is match on the code alone.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e after setting key in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidTransitionError reports a disallowed status change.
func NewInvalidTransitionError(resource, from, to string) *StandardError {
	return newError(ErrCodeInvalidTransition,
		fmt.Sprintf("Cannot move %s from %s to %s", resource, from, to),
		fmt.Sprintf("from: %s, to: %s", from, to), false).
		WithMetadata("from", from).
		WithMetadata("to", to)
}

func NewDuplicateApplicationError(petID, adopterID string) *StandardError {
	return newError(ErrCodeDuplicateApplication,
		"An active application for this pet already exists",
		fmt.Sprintf("petId: %s, adopterId: %s", petID, adopterID), false)
}

// NewSlotConflictError carries the conflicting bookings under metadata "conflicts".
func NewSlotConflictError(date, startTime string, conflicts interface{}) *StandardError {
	return newError(ErrCodeSlotConflict,
		"The requested time overlaps an existing interview",
		fmt.Sprintf("date: %s, time: %s", date, startTime), false).
		WithMetadata("conflicts", conflicts)
}

func NewNotPendingError(interviewID string) *StandardError {
	return newError(ErrCodeNotPending,
		"Interview has already been responded to",
		fmt.Sprintf("interviewId: %s", interviewID), false)
}

func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Caller is not allowed to perform this action", details, false)
}

func NewNotFoundError(resource, id string) *StandardError {
	return newError(ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource),
		fmt.Sprintf("id: %s", id), false)
}

func NewValidationFailedError(details string, fields []string) *StandardError {
	err := newError(ErrCodeValidationFailed, "Validation failed", details, false)
	if len(fields) > 0 {
		err.WithMetadata("fields", fields)
	}
	return err
}

func NewPetUnavailableError(petID, status string) *StandardError {
	return newError(ErrCodePetUnavailable,
		"Pet is not available for adoption",
		fmt.Sprintf("petId: %s, status: %s", petID, status), false)
}

func NewUnauthenticatedError(details string) *StandardError {
	return newError(ErrCodeUnauthenticated, "Authentication required", details, false)
}

func NewBadRequestError(details string) *StandardError {
	return newError(ErrCodeBadRequest, "Malformed request", details, false)
}

// NewDatabaseError wraps a storage failure. Retryable.
func NewDatabaseError(operation string, err error) *StandardError {
	e := newError(ErrCodeDatabaseError, "Database operation failed",
		fmt.Sprintf("operation: %s, error: %v", operation, err), true)
	e.cause = err
	return e
}

func NewCacheError(operation string, err error) *StandardError {
	e := newError(ErrCodeCacheError, "Cache operation failed",
		fmt.Sprintf("operation: %s, error: %v", operation, err), true)
	e.cause = err
	return e
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %v", channel, err), true)
	e.cause = err
	return e
}

func NewIdentityProviderError(err error) *StandardError {
	e := newError(ErrCodeIdentityProviderError, "Identity provider unavailable", err.Error(), true)
	e.cause = err
	return e
}

func NewInternalError(err error) *StandardError {
	e := newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
	e.cause = err
	return e
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandard extracts a StandardError from err's chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// Normalize always returns a StandardError, wrapping unknown errors as INTERNAL_ERROR.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseError,
		ErrCodeNotificationSendFailed,
		ErrCodeIdentityProviderError:
		return 3
	case ErrCodeCacheError:
		return 1
	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Retryable && IsRetryableErrorCode(stdErr.Code)
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "CACHE"):
		return "STORAGE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case code == ErrCodeForbidden || code == ErrCodeUnauthenticated || strings.Contains(codeStr, "IDENTITY"):
		return "AUTH"
	case strings.Contains(codeStr, "VALIDATION") || code == ErrCodeBadRequest:
		return "VALIDATION"
	case code == ErrCodeInternal:
		return "INTERNAL"
	default:
		return "BUSINESS"
	}
}
