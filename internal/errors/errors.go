// Package errors provides error codes and wrapping for the sync core.
package errors

import "fmt"

// ErrorCode identifies an error class that callers and the UI can match on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Gateway errors
	ErrGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrGatewayAuth        ErrorCode = "GATEWAY_AUTH_FAILED"
	ErrGatewayNotFound    ErrorCode = "GATEWAY_NOT_FOUND"

	// Sync errors
	ErrSyncOffline    ErrorCode = "SYNC_OFFLINE"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncNoGateway  ErrorCode = "SYNC_NO_GATEWAY"
	ErrSyncPushFailed ErrorCode = "SYNC_PUSH_FAILED"
	ErrSyncPullFailed ErrorCode = "SYNC_PULL_FAILED"
)

// AppError carries a code, a human message, and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of an error, or ErrInternal for plain errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
