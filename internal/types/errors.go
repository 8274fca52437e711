package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants. Components MUST use these constants
// instead of hardcoded strings.
const (
	// Source adapter failures (upstream health export endpoint).
	ErrCodeSourceUnavailable ErrorCode = "source_unavailable"
	ErrCodeSourceAuth        ErrorCode = "source_auth_failed"
	ErrCodeSourceMalformed   ErrorCode = "source_malformed_response"

	// Per-record validation failures (400 when surfaced over HTTP).
	// ValidationUnknownCategory rejects a run or record naming a category
	// the pipeline does not know.
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationNegative        ErrorCode = "validation_negative_value"
	ErrCodeValidationHeartRate       ErrorCode = "validation_heart_rate_ordering"
	ErrCodeValidationEfficiency      ErrorCode = "validation_efficiency_out_of_range"
	ErrCodeValidationDuration        ErrorCode = "validation_duration_out_of_range"
	ErrCodeValidationBadTimestamp    ErrorCode = "validation_bad_timestamp"
	ErrCodeValidationBadPayload      ErrorCode = "validation_malformed_payload"
	ErrCodeValidationUnknownCategory ErrorCode = "validation_unknown_category"

	// Auth (push API bearer key).
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Store failures.
	ErrCodeStoreUnavailable    ErrorCode = "store_unavailable"
	ErrCodeConstraintViolation ErrorCode = "store_constraint_violation"
	ErrCodeInternalDB          ErrorCode = "internal_database_error"

	// Catch-all.
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the push API to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "source_"):
		return http.StatusBadGateway
	case c == ErrCodeConstraintViolation:
		return http.StatusConflict
	case c == ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout healthsync.
// All domain errors should be expressed as AppError to enable consistent
// formatting, retry classification, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates an AppError describing a per-record validation
// failure. The offending field name and the human-readable reason are carried
// in Details so RunResults can report exactly what was rejected.
func NewValidationError(code ErrorCode, field, reason string) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf("field %q: %s", field, reason),
		Details: map[string]any{"field": field, "reason": reason},
	}
}
