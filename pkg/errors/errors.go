package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`

	cause error
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches another AppError by code so errors.Is works against the predefined values
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeNotFound           = "not_found"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeInternalError      = "internal_error"
	ErrCodeInvalidScope       = "invalid_scope"
	ErrCodeDerivationFailed   = "derivation_failed"
	ErrCodeSigningFailed      = "signing_failed"
	ErrCodeAuthDenied         = "auth_denied"
	ErrCodeAuthLockedOut      = "auth_locked_out"
	ErrCodeSubmissionTimeout  = "submission_timeout"
	ErrCodeSubmissionRejected = "submission_rejected"
	ErrCodePermissionDenied   = "permission_denied"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrAuthDenied = &AppError{
		Code:       ErrCodeAuthDenied,
		Message:    "Biometric authorization was not granted, please try again",
		StatusCode: http.StatusUnauthorized,
	}

	ErrAuthLockedOut = &AppError{
		Code:       ErrCodeAuthLockedOut,
		Message:    "Biometric sensor is locked, unlock your device to continue",
		StatusCode: http.StatusLocked,
	}

	ErrSubmissionTimeout = &AppError{
		Code:       ErrCodeSubmissionTimeout,
		Message:    "Submission status unknown, will reconcile",
		StatusCode: http.StatusGatewayTimeout,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// BadRequest reports malformed caller input
func BadRequest(detail string) *AppError {
	return NewWithDetail(ErrCodeBadRequest, ErrBadRequest.Message, detail, http.StatusBadRequest)
}

// InvalidScope reports malformed derivation input. Never retried.
func InvalidScope(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidScope,
		Message:    "Invalid wallet scope",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// DerivationFailed wraps a KDF or key construction error
func DerivationFailed(cause error) *AppError {
	return &AppError{
		Code:       ErrCodeDerivationFailed,
		Message:    "Key derivation failed",
		Detail:     cause.Error(),
		StatusCode: http.StatusInternalServerError,
		cause:      cause,
	}
}

// SigningFailed wraps a chain library signing error after the internal retry
func SigningFailed(cause error) *AppError {
	return &AppError{
		Code:       ErrCodeSigningFailed,
		Message:    "Transaction signing failed",
		Detail:     cause.Error(),
		StatusCode: http.StatusUnprocessableEntity,
		cause:      cause,
	}
}

// SubmissionRejected reports a terminal rejection from the submission service
func SubmissionRejected(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeSubmissionRejected,
		Message:    "Transaction group was rejected",
		Detail:     reason,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// PermissionDenied reports an owner-only operation attempted by someone else
func PermissionDenied(reason string) *AppError {
	return &AppError{
		Code:       ErrCodePermissionDenied,
		Message:    "Permission denied",
		Detail:     reason,
		StatusCode: http.StatusForbidden,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err is an AppError carrying code
func HasCode(err error, code string) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == code
}

// Retryable reports whether the caller may retry the same call without user action.
// Derivation is pure, so derivation failures are safe to retry; timeouts are not,
// the caller has to reconcile status first.
func Retryable(err error) bool {
	appErr, ok := IsAppError(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case ErrCodeDerivationFailed, ErrCodeAuthDenied, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

// UserMessage is the text the UI shows for err
func UserMessage(err error) string {
	appErr, ok := IsAppError(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch appErr.Code {
	case ErrCodeAuthDenied:
		return "Authentication failed. Tap to try again."
	case ErrCodeAuthLockedOut:
		return "Biometrics are locked. Unlock your device with its passcode, then try again."
	case ErrCodeSubmissionTimeout:
		return "Status unknown. We will reconcile this transaction before you retry."
	case ErrCodePermissionDenied:
		return "Only the business owner can do this."
	case ErrCodeSubmissionRejected:
		return "The network rejected this transaction."
	default:
		return appErr.Message
	}
}
