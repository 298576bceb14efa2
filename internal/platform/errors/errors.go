package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a stable, machine-readable error classification. Callers (and the
// HTTP layer) branch on codes, never on message text.
type Code string

const (
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeConflict     Code = "CONFLICT"
	ErrCodeInternal     Code = "INTERNAL"
	ErrCodeUnavailable  Code = "UNAVAILABLE"

	// Production-tracking domain codes.
	ErrCodeAlreadyDispatched       Code = "ALREADY_DISPATCHED"
	ErrCodeIncompleteWork          Code = "INCOMPLETE_WORK"
	ErrCodeConservationViolation   Code = "CONSERVATION_VIOLATION"
	ErrCodeInvalidAlterationTarget Code = "INVALID_ALTERATION_TARGET"
	ErrCodeSubBatchFrozen          Code = "SUB_BATCH_FROZEN"
	ErrCodeConcurrentModification  Code = "CONCURRENT_MODIFICATION"
	ErrCodeNotAtFinalDepartment    Code = "NOT_AT_FINAL_DEPARTMENT"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource by type and identifier.
func NotFound(resource, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// MessageOf extracts the human-readable message from an error chain.
func MessageOf(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
