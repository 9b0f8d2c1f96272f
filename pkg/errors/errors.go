package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies acknowledgement errors returned to clients. Codes
// are stable wire values; messages are free-form.
type ErrorCode string

const (
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeRoomNotFound  ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomFull      ErrorCode = "ROOM_FULL"
	ErrCodeDuplicateRoom ErrorCode = "DUPLICATE_ROOM_ID"
	ErrCodeAlreadyInRoom ErrorCode = "ALREADY_IN_ROOM"
	ErrCodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a wire code alongside the underlying cause. Room and
// routing failures travel to clients through acknowledgements, never as
// thrown errors, so the code must survive serialization.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError without a cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the wire code from an error chain, defaulting to
// ErrCodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}
