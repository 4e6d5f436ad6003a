package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All packages MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidBody  ErrorCode = "validation_invalid_body"

	// Hub pipeline taxonomy
	ErrCodeUnsupportedKind  ErrorCode = "hub_unsupported_notification_kind"
	ErrCodeEntityNotFound   ErrorCode = "hub_entity_not_found"
	ErrCodeLinkNotFound     ErrorCode = "hub_link_not_found"
	ErrCodeEntityResolution ErrorCode = "hub_entity_resolution_failed"
	ErrCodeTransformFailed  ErrorCode = "hub_transform_failed"
	ErrCodeCancelled        ErrorCode = "hub_cancelled"

	// Auth against the Hub
	ErrCodeHubAuthFailed ErrorCode = "hub_authentication_failed"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue      ErrorCode = "internal_queue_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case c == ErrCodeUnsupportedKind:
		return http.StatusUnprocessableEntity
	case c == ErrCodeEntityNotFound:
		return http.StatusNotFound
	case c == ErrCodeCancelled:
		return 499
	case c == ErrCodeLinkNotFound,
		c == ErrCodeEntityResolution,
		c == ErrCodeHubAuthFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard error type used throughout the module.
// All domain errors should be expressed as AppError so that callers can
// branch on Code with errors.As while keeping the original cause chain.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
// A transform failure reports the status of its root cause.
func (e *AppError) HTTPStatus() int {
	if e.Code == ErrCodeTransformFailed {
		if root := RootCode(e.Err); root != "" {
			return root.HTTPStatus()
		}
	}
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
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

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// NewTransformError wraps a classified cause escaping a content builder.
// The cause keeps its own code, so RootCode(err) still reports it.
func NewTransformError(kind NotificationKind, notificationID string, cause error) *AppError {
	return NewAppErrorWithDetails(
		ErrCodeTransformFailed,
		fmt.Sprintf("failed to transform %s notification", kind),
		cause,
		map[string]any{
			"notification_kind": string(kind),
			"notification_id":   notificationID,
		},
	)
}

// CodeOf returns the code of the outermost AppError in err's chain, or "" if
// there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// RootCode returns the code of the innermost AppError in err's chain. For a
// TransformError this is the classified cause (not found, link missing...).
func RootCode(err error) ErrorCode {
	var code ErrorCode
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			break
		}
		code = appErr.Code
		err = appErr.Err
	}
	return code
}

// IsCode reports whether any AppError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// ClassifyContextError maps a failure to the cancelled code when the
// caller's ctx is done. It returns nil otherwise, including for transport
// timeouts that wrap context.DeadlineExceeded while ctx is still live.
func ClassifyContextError(ctx context.Context, err error) *AppError {
	if ctx == nil || ctx.Err() == nil {
		return nil
	}
	cause := err
	if cause == nil {
		cause = ctx.Err()
	}
	return NewAppError(ErrCodeCancelled, "operation cancelled", cause)
}
