package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session lifecycle
var (
	// Login errors, the only ones surfaced to the user
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEncryptionUnavailable = errors.New("credential encryption unavailable")
	ErrLoginUnavailable      = errors.New("login service unavailable")
	ErrLoginSuperseded       = errors.New("login superseded by a newer session change")

	// Token errors
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidDuration  = errors.New("invalid duration string")
	ErrRefreshRejected  = errors.New("refresh rejected")
	ErrSessionExpired   = errors.New("session expired")
	ErrNotAuthenticated = errors.New("not authenticated")

	// Storage errors
	ErrNotFound = errors.New("not found")

	// General errors
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}
