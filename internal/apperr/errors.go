// Package apperr defines the error taxonomy shared by the flow components.
//
// Every failure that crosses a component boundary is an *Error with a Kind.
// Callers branch on the kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrUnauthenticated) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the flow reacts to it.
type Kind string

const (
	KindConfiguration         Kind = "configuration"
	KindUnauthenticated       Kind = "unauthenticated"
	KindValidation            Kind = "validation"
	KindUnreachable           Kind = "unreachable"
	KindServer                Kind = "server"
	KindTerminalPayment       Kind = "terminal_payment"
	KindJobFailure            Kind = "job_failure"
	KindMissingAuxiliaryToken Kind = "missing_auxiliary_token"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrUnreachable           = &Error{Kind: KindUnreachable}
	ErrServer                = &Error{Kind: KindServer}
	ErrTerminalPayment       = &Error{Kind: KindTerminalPayment}
	ErrJobFailure            = &Error{Kind: KindJobFailure}
	ErrMissingAuxiliaryToken = &Error{Kind: KindMissingAuxiliaryToken}
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "backend.create_payment"
	Status int    // HTTP status when the failure came from a response
	Msg    string
	Err    error
}

// E builds an *Error with a message.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Message returns the human-facing part of the error without the operation prefix.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels: a target with only Kind set matches any error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Msg == "" && t.Err == nil && t.Status == 0 {
		return e.Kind == t.Kind
	}
	return e == t
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the human-facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// Retryable reports whether a manual retry of the same step can succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnreachable, KindServer, KindJobFailure:
		return true
	default:
		return false
	}
}
