// Package errors defines the structured error taxonomy shared by the
// scheduler core, the data layer, and the HTTP surface.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource (usually an agent) was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeNotScheduled indicates the agent has no active scheduled task.
	ErrCodeNotScheduled ErrorCode = "not_scheduled"
	// ErrCodeInvalidCron indicates a cron expression failed to parse.
	ErrCodeInvalidCron ErrorCode = "invalid_cron"
	// ErrCodeAlreadyRunning indicates the agent is currently executing.
	ErrCodeAlreadyRunning ErrorCode = "already_running"
	// ErrCodeNotPaused indicates a resume was requested for a task that is not paused.
	ErrCodeNotPaused ErrorCode = "not_paused"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeStoreFailure indicates the agent store rejected or failed an operation.
	ErrCodeStoreFailure ErrorCode = "store_failure"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with an arbitrary code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NotScheduled creates a new NotScheduled error.
func NotScheduled(message string) *AppError {
	return &AppError{Code: ErrCodeNotScheduled, Message: message}
}

// NotScheduledf creates a new NotScheduled error with formatted message.
func NotScheduledf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotScheduled, Message: fmt.Sprintf(format, args...)}
}

// InvalidCron creates a new InvalidCron error wrapping the parser failure.
func InvalidCron(expr string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidCron,
		Message: fmt.Sprintf("invalid cron expression %q", expr),
		Cause:   cause,
		Field:   "cron",
	}
}

// AlreadyRunning creates a new AlreadyRunning error.
func AlreadyRunning(agentID string) *AppError {
	return &AppError{
		Code:    ErrCodeAlreadyRunning,
		Message: fmt.Sprintf("agent %s is already running", agentID),
	}
}

// NotPaused creates a new NotPaused error.
func NotPaused(agentID string) *AppError {
	return &AppError{
		Code:    ErrCodeNotPaused,
		Message: fmt.Sprintf("agent %s is not paused", agentID),
	}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// StoreFailure wraps an agent-store error.
func StoreFailure(op string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeStoreFailure,
		Message: fmt.Sprintf("agent store %s failed", op),
		Cause:   cause,
	}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsNotScheduled checks if an error is a NotScheduled error.
func IsNotScheduled(err error) bool {
	return isCode(err, ErrCodeNotScheduled)
}

// IsInvalidCron checks if an error is an InvalidCron error.
func IsInvalidCron(err error) bool {
	return isCode(err, ErrCodeInvalidCron)
}

// IsAlreadyRunning checks if an error is an AlreadyRunning error.
func IsAlreadyRunning(err error) bool {
	return isCode(err, ErrCodeAlreadyRunning)
}

// IsNotPaused checks if an error is a NotPaused error.
func IsNotPaused(err error) bool {
	return isCode(err, ErrCodeNotPaused)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsStoreFailure checks if an error is a StoreFailure error.
func IsStoreFailure(err error) bool {
	return isCode(err, ErrCodeStoreFailure)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
