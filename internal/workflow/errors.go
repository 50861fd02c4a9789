package workflow

import (
	"errors"
	"fmt"
)

// Kind classifies why a scan did not produce a transition.
type Kind string

const (
	MalformedCredential Kind = "MalformedCredential"
	InvalidCredential   Kind = "InvalidCredential"
	IdentityNotFound    Kind = "IdentityNotFound"
	LocationFull        Kind = "LocationFull"
	AlreadyParked       Kind = "AlreadyParked"
	NotCurrentlyParked  Kind = "NotCurrentlyParked"
	InconsistentState   Kind = "InconsistentState"
	TransportError      Kind = "TransportError"
)

// Error is the terminal error of one workflow run. Message is safe to show to a guard.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, or TransportError for errors that did not come from a workflow.
func KindOf(err error) Kind {
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr.Kind
	}
	return TransportError
}
