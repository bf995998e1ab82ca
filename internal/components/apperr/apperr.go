// Package apperr defines the error kinds shared by the bag workflows.
//
// Every workflow error wraps exactly one kind so the HTTP layer can map it to
// a status code and reason code with errors.Is, while callers keep the
// package-specific sentinel (bags.ErrBagNotFound, ...) for finer checks.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("not found")
	ErrInvalid                 = errors.New("invalid input")
	ErrAlreadyMember           = errors.New("already a member")
	ErrAlreadyProcessed        = errors.New("already processed")
	ErrMismatch                = errors.New("mismatch")
	ErrStorageNotConnected     = errors.New("storage not connected")
	ErrHostStorageDisconnected = errors.New("host storage disconnected")
	ErrDecryptionFailed        = errors.New("decryption failed")
	ErrStorageUnavailable      = errors.New("storage unavailable")
)

var kinds = []error{
	ErrUnauthenticated,
	ErrForbidden,
	ErrNotFound,
	ErrInvalid,
	ErrAlreadyMember,
	ErrAlreadyProcessed,
	ErrMismatch,
	ErrStorageNotConnected,
	ErrHostStorageDisconnected,
	ErrDecryptionFailed,
	ErrStorageUnavailable,
}

// Error carries a kind, a human readable message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// New returns an error of the given kind.
func New(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind caused by cause.
func Wrap(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Invalid is shorthand for an input validation error.
func Invalid(message string) *Error {
	return New(ErrInvalid, message)
}

// KindOf returns the kind err belongs to, or nil when it is unclassified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the message of the outermost *Error in err's chain,
// falling back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
