// Package errs classifies the error taxonomy of spec.md §7 as typed
// sentinel wrappers, the way internal/security/errors.go splits AppError
// by ErrorType in the teacher, trimmed to what this core needs: there is
// no HTTP-status mapping here beyond what internal/api attaches itself.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy category from spec.md §7.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTimeout    Kind = "timeout"
	KindTransient  Kind = "transient"
	KindDeadlock   Kind = "deadlock"
	KindStorage    Kind = "storage"
	KindFatal      Kind = "fatal"
)

// Error is a classified error carrying the component that raised it, so
// caller-visible failures can always name "component and condition" as
// spec.md §7 requires.
type Error struct {
	Kind      Kind
	Component string
	Condition string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Condition, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Condition)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with no wrapped cause.
func New(kind Kind, component, condition string) *Error {
	return &Error{Kind: kind, Component: component, Condition: condition}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, component, condition string, err error) *Error {
	return &Error{Kind: kind, Component: component, Condition: condition, Err: err}
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retryable reports whether the classified error is one of the bounded,
// locally-retried categories (spec.md §7, §4.10): Timeout or Transient.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindTimeout || e.Kind == KindTransient
	}
	return false
}
