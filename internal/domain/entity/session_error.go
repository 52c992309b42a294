package entity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the wallet session and record decoding.
type ErrorKind string

const (
	KindNoProviderDetected ErrorKind = "NoProviderDetected"
	KindUserRejected       ErrorKind = "UserRejected"
	KindChainSetupFailed   ErrorKind = "ChainSetupFailed"
	KindNoAccountsReturned ErrorKind = "NoAccountsReturned"
	KindDecodeError        ErrorKind = "DecodeError"
	KindTransportError     ErrorKind = "TransportError"
)

// SessionError is the typed error returned by session and decoding operations.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrNoProviderDetected = &SessionError{Kind: KindNoProviderDetected, Message: "no wallet provider detected"}
	ErrUserRejected       = &SessionError{Kind: KindUserRejected, Message: "request rejected by user"}
	ErrChainSetupFailed   = &SessionError{Kind: KindChainSetupFailed, Message: "wallet could not be moved to the target network"}
	ErrNoAccountsReturned = &SessionError{Kind: KindNoAccountsReturned, Message: "wallet returned no accounts"}
	ErrDecodeError        = &SessionError{Kind: KindDecodeError, Message: "record could not be decoded"}
	ErrTransportError     = &SessionError{Kind: KindTransportError, Message: "wallet transport failed"}
)

// NewSessionError creates a SessionError of the given kind.
func NewSessionError(kind ErrorKind, message string, cause error) *SessionError {
	return &SessionError{Kind: kind, Message: message, Cause: cause}
}

// Errorf creates a SessionError with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *SessionError {
	return &SessionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// Is matches any *SessionError with the same kind.
func (e *SessionError) Is(target error) bool {
	var other *SessionError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// KindOf returns the kind of the first SessionError in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// AsSessionError returns err as a SessionError, wrapping foreign errors with fallback.
func AsSessionError(err error, fallback ErrorKind) *SessionError {
	if err == nil {
		return nil
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	return &SessionError{Kind: fallback, Message: err.Error(), Cause: err}
}
