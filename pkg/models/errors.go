package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindInvalidTransition  ErrorKind = "InvalidTransition"
	KindPermissionDenied   ErrorKind = "PermissionDenied"
	KindValidation         ErrorKind = "ValidationError"
	KindPersistenceFailure ErrorKind = "PersistenceFailure"
	KindNotFound           ErrorKind = "NotFound"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

// Error is the structured error surfaced by the order engine.
type Error struct {
	Kind    ErrorKind
	OrderID string
	Message string
	// Prior holds the restored order for PersistenceFailure.
	Prior *Order
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.OrderID != "" {
		msg += fmt.Sprintf(" (order %s)", e.OrderID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.OrderID == "" || t.OrderID == e.OrderID)
}

func NewError(kind ErrorKind, orderID, format string, args ...any) *Error {
	return &Error{Kind: kind, OrderID: orderID, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
