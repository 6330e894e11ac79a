package raysharp

import (
	"errors"
	"fmt"
)

// AuthError means the device rejected our credentials (or a re-login
// attempt failed). It is fatal until credentials are corrected.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ConnError covers transport failures, timeouts and non-200 responses.
// Transient: callers retry with backoff.
type ConnError struct {
	Msg string
	Err error
}

func (e *ConnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConnError) Unwrap() error { return e.Err }

// NewAuthError and NewConnError exist for callers (and tests) simulating
// device failures.
func NewAuthError(msg string) error { return &AuthError{Msg: msg} }
func NewConnError(msg string) error { return &ConnError{Msg: msg} }

func authErrorf(format string, args ...any) error {
	return &AuthError{Msg: fmt.Sprintf(format, args...)}
}

func connErrorf(err error, format string, args ...any) error {
	return &ConnError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsAuthError reports whether err (or anything it wraps) is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsConnError reports whether err (or anything it wraps) is a ConnError.
func IsConnError(err error) bool {
	var ce *ConnError
	return errors.As(err, &ce)
}
