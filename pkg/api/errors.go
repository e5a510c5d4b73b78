package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. Every kind maps to a client-facing
// rejection; none of them is a process-level failure.
type ErrorKind string

const (
	KindInvalidDefinition   ErrorKind = "InvalidDefinition"
	KindDuplicateName       ErrorKind = "DuplicateName"
	KindInvalidInitialState ErrorKind = "InvalidInitialState"
	KindDuplicateStateID    ErrorKind = "DuplicateStateId"
	KindDuplicateActionID   ErrorKind = "DuplicateActionId"
	KindInvalidReference    ErrorKind = "InvalidReference"
	KindNotFound            ErrorKind = "NotFound"
	KindTerminalState       ErrorKind = "TerminalState"
	KindActionDisabled      ErrorKind = "ActionDisabled"
	KindIllegalTransition   ErrorKind = "IllegalTransition"
	KindIntegrity           ErrorKind = "IntegrityError"
	KindConflict            ErrorKind = "Conflict"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidDefinition   = &Error{Kind: KindInvalidDefinition}
	ErrDuplicateName       = &Error{Kind: KindDuplicateName}
	ErrInvalidInitialState = &Error{Kind: KindInvalidInitialState}
	ErrDuplicateStateID    = &Error{Kind: KindDuplicateStateID}
	ErrDuplicateActionID   = &Error{Kind: KindDuplicateActionID}
	ErrInvalidReference    = &Error{Kind: KindInvalidReference}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrTerminalState       = &Error{Kind: KindTerminalState}
	ErrActionDisabled      = &Error{Kind: KindActionDisabled}
	ErrIllegalTransition   = &Error{Kind: KindIllegalTransition}
	ErrIntegrity           = &Error{Kind: KindIntegrity}
	ErrConflict            = &Error{Kind: KindConflict}
)

// Error is the engine's classified error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind to an underlying error.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so that errors.Is(err, ErrNotFound) works for any
// NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if err
// is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
