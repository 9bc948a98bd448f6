package types

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
// Callers branch on Kind, never on Error() strings.
type Kind string

const (
	KindConfig        Kind = "Config"
	KindIO            Kind = "IO"
	KindParse         Kind = "Parse"
	KindValidation    Kind = "Validation"
	KindProtocol      Kind = "Protocol"
	KindPeer          Kind = "Peer"
	KindStorage       Kind = "Storage"
	KindNotFound      Kind = "NotFound"
	KindAlreadyExists Kind = "AlreadyExists"
	KindInternal      Kind = "Internal"
)

// ErrNotFound is matched by errors.Is for every NotFound-kind error so callers
// can test absence without caring which backend produced it.
var ErrNotFound = errors.New("not found")

// Error is the structured error type shared by all packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is lets errors.Is(err, ErrNotFound) succeed for NotFound-kind errors.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e != nil && e.Kind == KindNotFound
}

// Errorf builds a structured error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to cause. A nil cause yields a plain error
// of that kind.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFound(format string, args ...interface{}) error {
	return Errorf(KindNotFound, format, args...)
}

func Validation(format string, args ...interface{}) error {
	return Errorf(KindValidation, format, args...)
}

// KindOf returns the kind of the outermost structured error in err's chain,
// or KindInternal when err carries no structured error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is (or wraps) an *Error with the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return IsKind(err, KindValidation) }
func IsParse(err error) bool      { return IsKind(err, KindParse) }

// IsClientError reports whether err was caused by the caller's input rather
// than by the node itself.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindParse, KindValidation, KindProtocol:
		return true
	}
	return false
}
