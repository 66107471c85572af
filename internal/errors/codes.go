// Package errors defines the typed error taxonomy returned by store operations.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a class of store failure. Callers dispatch on the code,
// never on the underlying driver error.
type Code string

const (
	// CodeInvalidIdentifier indicates a malformed record, tag, or user identifier.
	CodeInvalidIdentifier Code = "INVALID_IDENTIFIER"
	// CodeValidationFailure indicates invalid record content or tags.
	CodeValidationFailure Code = "VALIDATION_FAILURE"
	// CodeDuplicateRecord indicates another live record of the same user
	// already carries an identical tag-set.
	CodeDuplicateRecord Code = "DUPLICATE_RECORD"
	// CodeRecordNotFound indicates the record does not exist or is not owned
	// by the calling user.
	CodeRecordNotFound Code = "RECORD_NOT_FOUND"
	// CodeTransientStorage indicates a retryable storage failure: connection
	// loss, serialization or deadlock conflict, or a query timeout.
	CodeTransientStorage Code = "TRANSIENT_STORAGE"
	// CodeConstraintViolation indicates a non-duplicate integrity violation.
	// Not safe to retry blindly.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"
	// CodeCacheUnavailable indicates a cache backend failure. Never surfaced
	// to store callers; logged and treated as a miss.
	CodeCacheUnavailable Code = "CACHE_UNAVAILABLE"
)

// StoreError is a structured error carrying a taxonomy code.
type StoreError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the taxonomy code of err, or "" if err carries none.
func CodeOf(err error) Code {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Convenience constructors.

// InvalidIdentifier creates an invalid identifier error.
func InvalidIdentifier(msg string) *StoreError {
	return &StoreError{Code: CodeInvalidIdentifier, Message: msg}
}

// ValidationFailure creates a validation failure error.
func ValidationFailure(msg string) *StoreError {
	return &StoreError{Code: CodeValidationFailure, Message: msg}
}

// DuplicateRecord creates a duplicate tag-set error.
func DuplicateRecord(msg string, cause error) *StoreError {
	return &StoreError{Code: CodeDuplicateRecord, Message: msg, Cause: cause}
}

// RecordNotFound creates a record not found error.
func RecordNotFound(msg string) *StoreError {
	return &StoreError{Code: CodeRecordNotFound, Message: msg}
}

// TransientStorage creates a retryable storage error.
func TransientStorage(msg string, cause error) *StoreError {
	return &StoreError{Code: CodeTransientStorage, Message: msg, Cause: cause}
}

// ConstraintViolation creates a non-duplicate integrity error.
func ConstraintViolation(msg string, cause error) *StoreError {
	return &StoreError{Code: CodeConstraintViolation, Message: msg, Cause: cause}
}

// CacheUnavailable creates a cache backend error.
func CacheUnavailable(msg string, cause error) *StoreError {
	return &StoreError{Code: CodeCacheUnavailable, Message: msg, Cause: cause}
}
