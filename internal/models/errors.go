package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the booking engine
type ErrorKind string

const (
	ErrKindNotFound           ErrorKind = "NOT_FOUND"
	ErrKindForbidden          ErrorKind = "FORBIDDEN"
	ErrKindConflict           ErrorKind = "CONFLICT"
	ErrKindInvalidTransition  ErrorKind = "INVALID_TRANSITION"
	ErrKindGatewayUnavailable ErrorKind = "GATEWAY_UNAVAILABLE"
	ErrKindValidation         ErrorKind = "VALIDATION_ERROR"
)

// DomainError is returned by services for every expected failure.
// Current carries the state the caller lost against, for conflicts.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Current map[string]interface{}
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithCurrent attaches the current entity state to the error.
func (e *DomainError) WithCurrent(current map[string]interface{}) *DomainError {
	e.Current = current
	return e
}

// WithCause records the underlying error.
func (e *DomainError) WithCause(err error) *DomainError {
	e.Err = err
	return e
}

func newDomainError(kind ErrorKind, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(format string, args ...interface{}) *DomainError {
	return newDomainError(ErrKindNotFound, format, args...)
}

func NewForbidden(format string, args ...interface{}) *DomainError {
	return newDomainError(ErrKindForbidden, format, args...)
}

func NewConflict(format string, args ...interface{}) *DomainError {
	return newDomainError(ErrKindConflict, format, args...)
}

func NewInvalidTransition(format string, args ...interface{}) *DomainError {
	return newDomainError(ErrKindInvalidTransition, format, args...)
}

func NewGatewayUnavailable(format string, args ...interface{}) *DomainError {
	return newDomainError(ErrKindGatewayUnavailable, format, args...)
}

func NewValidation(format string, args ...interface{}) *DomainError {
	return newDomainError(ErrKindValidation, format, args...)
}

// KindOf returns the kind of a DomainError anywhere in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
