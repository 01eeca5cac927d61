package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindStateConflict ErrorKind = "state_conflict"
	KindRaceLost      ErrorKind = "race_lost"
	KindExhausted     ErrorKind = "resource_exhausted"
	KindTransient     ErrorKind = "transient"
)

// EngineError carries one of the engine's error kinds. errors.Is matches on kind, so
// errors.Is(err, ErrNotFound) holds for any not-found error regardless of message.
type EngineError struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *EngineError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

var (
	ErrValidation    = &EngineError{Kind: KindValidation}
	ErrNotFound      = &EngineError{Kind: KindNotFound}
	ErrStateConflict = &EngineError{Kind: KindStateConflict}
	ErrRaceLost      = &EngineError{Kind: KindRaceLost}
	ErrExhausted     = &EngineError{Kind: KindExhausted}
	ErrTransient     = &EngineError{Kind: KindTransient}
)

func newError(kind ErrorKind, op, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func validationError(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, format, args...)
}

func notFoundError(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, format, args...)
}

func conflictError(op, format string, args ...interface{}) error {
	return newError(KindStateConflict, op, format, args...)
}

// transientError wraps a storage failure. Engine errors pass through untouched.
func transientError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Kind: KindTransient, Op: op, Msg: "storage failure", Err: err}
}

// KindOf returns the engine kind of err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}
