// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind distinguishes the classes of failure a caller can act on.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindIllegalTransition
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

// Error is a classified error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed input.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// NotFound reports a missing account or scout record.
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Unauthorized reports a guard denial.
func Unauthorized(op, msg string) error {
	return &Error{Kind: KindAuthorization, Op: op, Msg: msg}
}

// IllegalTransition reports a state change that is not allowed from the
// current state.
func IllegalTransition(op, msg string) error {
	return &Error{Kind: KindIllegalTransition, Op: op, Msg: msg}
}

// Conflict reports a uniqueness violation.
func Conflict(op, msg string, err error) error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the caller-facing message of err, or "" when err is not
// classified.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}

func IsValidation(err error) bool        { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool          { return KindOf(err) == KindNotFound }
func IsAuthorization(err error) bool     { return KindOf(err) == KindAuthorization }
func IsIllegalTransition(err error) bool { return KindOf(err) == KindIllegalTransition }
func IsConflict(err error) bool          { return KindOf(err) == KindConflict }
