// Package apperr defines the error codes shared by the local store, the sync
// engine and the remote gateway.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeOffline            Code = "OFFLINE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalid            Code = "INVALID"
	CodeRemote             Code = "REMOTE_FAILURE"
	CodeTimeout            Code = "TIMEOUT"
	CodeConflict           Code = "CONFLICT"
	CodeInternal           Code = "INTERNAL"
)

// Sentinels for errors.Is checks. Matching is by code, so a wrapped
// AppError with the same code also matches.
var (
	ErrStorageUnavailable = New(CodeStorageUnavailable, "local storage unavailable")
	ErrOffline            = New(CodeOffline, "device is offline")
	ErrNotFound           = New(CodeNotFound, "record not found")
)

// AppError carries a code, a message and an optional cause.
type AppError struct {
	Code    Code
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

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new AppError.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with a code.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}
		// a different code may still wrap a matching one
		return Is(appErr.Err, code)
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
