// Package pipeline holds the ambient types shared by every component:
// the error taxonomy, the clock, and ID generation.
package pipeline

import (
	"errors"
	"fmt"
)

// Error represents a failure classified by the pipeline's error
// taxonomy. The code decides how the caller reacts:
//   - Conflict: optimistic status check lost; another worker owns the
//     message. Abandon without retrying.
//   - Transient: retryable failure (network, throttling, lease races).
//   - Permanent: retrying cannot help (malformed input, rejected request).
//   - Exhausted: transient failures exceeded the retry budget.
//
// Error includes structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed.
	Op string

	// MessageID identifies the affected message, when known.
	MessageID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodeConflict indicates a lost conditional write.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeTransient indicates a retryable failure.
	ErrCodeTransient ErrorCode = "TRANSIENT"

	// ErrCodePermanent indicates a failure retrying cannot fix.
	ErrCodePermanent ErrorCode = "PERMANENT"

	// ErrCodeExhausted indicates the retry budget ran out.
	ErrCodeExhausted ErrorCode = "EXHAUSTED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.MessageID != "" {
		msg += fmt.Sprintf(" (message=%s)", e.MessageID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error wrapping cause.
func NewError(code ErrorCode, op, messageID string, cause error) *Error {
	return &Error{Code: code, Op: op, MessageID: messageID, Err: cause}
}

// IsConflict returns true if the error is a lost conditional write.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsTransient returns true if the error is retryable.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient)
}

// IsPermanent returns true if retrying cannot help.
func IsPermanent(err error) bool {
	return hasCode(err, ErrCodePermanent)
}

// IsExhausted returns true if the retry budget was spent.
func IsExhausted(err error) bool {
	return hasCode(err, ErrCodeExhausted)
}

func hasCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
