// Package errs defines the error-kind taxonomy shared by every MammothBox
// component. Callers classify failures by kind, not by string matching,
// so the orchestrator, supervisor, and HTTP layer can each react
// appropriately (status code, retry, DLQ) without re-deriving intent.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the error-handling path a failure should take.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindSizeLimit    Kind = "size_limit"
	KindStorage      Kind = "storage"
	KindTransient    Kind = "transient"
	KindPermanent    Kind = "permanent"
	KindPrecondition Kind = "precondition"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
)

// Error wraps an underlying cause with a classification kind.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(k Kind, msg string, cause error, details ...string) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause, Details: details}
}

func Validation(msg string, details ...string) *Error {
	return newErr(KindValidation, msg, nil, details...)
}

func SizeLimit(msg string, details ...string) *Error {
	return newErr(KindSizeLimit, msg, nil, details...)
}

func Storage(msg string, cause error) *Error {
	return newErr(KindStorage, msg, cause)
}

func Transient(msg string, cause error) *Error {
	return newErr(KindTransient, msg, cause)
}

func Permanent(msg string, cause error) *Error {
	return newErr(KindPermanent, msg, cause)
}

func Precondition(msg string) *Error {
	return newErr(KindPrecondition, msg, nil)
}

func NotFound(msg string) *Error {
	return newErr(KindNotFound, msg, nil)
}

func Conflict(msg string) *Error {
	return newErr(KindConflict, msg, nil)
}

// Of returns the Kind of err if it (or something it wraps) is an *Error,
// and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Retryable reports whether err should be retried by the worker supervisor.
// Only Transient and Storage failures are retried; everything else either
// never should have been attempted again (Permanent, Validation,
// Precondition, NotFound) or is a data-integrity decision (Conflict).
func Retryable(err error) bool {
	k, ok := Of(err)
	if !ok {
		// Unclassified errors from third-party code default to transient:
		// safer to retry an unknown failure than to silently drop work.
		return true
	}
	return k == KindTransient || k == KindStorage
}

// HTTPStatus maps a Kind to the status code spec.md §7 assigns it.
func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return 400
	case KindSizeLimit:
		return 413
	case KindPrecondition:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	default:
		return 500
	}
}
