// Package errors defines the structured error taxonomy that devicecore's
// public operations return. Every operation that can fail returns either
// success or a single *Error value; there is no out-of-band failure channel.
package errors

import "fmt"

// Kind is one of the wire-visible error kind strings from the core's
// failure taxonomy. Kind strings are part of the local and cloud wire
// protocols and must not be renamed casually.
type Kind string

const (
	InvalidParams        Kind = "invalidParams"
	UnknownSession       Kind = "unknownSession"
	InvalidFormat        Kind = "invalidFormat"
	CommitmentMismatch   Kind = "commitmentMismatch"
	DeviceBusy           Kind = "deviceBusy"
	InvalidAuthCode      Kind = "invalid_auth_code"
	AccessDenied         Kind = "access_denied"
	TraitNotSupported    Kind = "trait_not_supported"
	ComponentNotFound    Kind = "component_not_found"
	InvalidCommandName   Kind = "invalidCommandName"
	InvalidPropValue     Kind = "invalidPropValue"
	TypeMismatch         Kind = "typeMismatch"
	PropertyMissing      Kind = "propertyMissing"
	InvalidState         Kind = "invalidState"
	AlreadyRegistered    Kind = "already_registered"
	AlreadyExpired       Kind = "already_expired"
	InvalidGrant         Kind = "invalid_grant"
	UnableToAuthenticate Kind = "unable_to_authenticate"
	NetworkError         Kind = "network_error"
)

// Error is devicecore's structured error type. It carries a wire-visible
// Kind, a human-readable message and an optional wrapped cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Kind returns the wire-visible error kind.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap supports errors.Is / errors.As across chained causes.
func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind, chaining an underlying cause.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Is reports whether err carries the given Kind. Kind comparisons are the
// idiomatic way callers branch on the failure taxonomy in this repository,
// rather than sentinel error values.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
