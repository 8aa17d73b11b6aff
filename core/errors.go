package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is a sentinel error for "not found" cases
var ErrNotFound = errors.New("not found")

// Dispatch error taxonomy. Everything that crosses the dispatch boundary is
// matched against these with errors.Is.
var (
	ErrUnknownCommand       = errors.New("unknown command")
	ErrHandlerTimeout       = errors.New("handler timed out")
	ErrHandlerPanic         = errors.New("handler panicked")
	ErrForbidden            = errors.New("missing required permissions")
	ErrGuildRequired        = errors.New("command requires a guild")
	ErrScopeNotHeld         = errors.New("scope lock not held for record")
	ErrDuplicateInteraction = errors.New("interaction already processed")
)

// Store and API failures, both retried internally before being surfaced.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRateLimited      = errors.New("rate limited")
	ErrAPIUnavailable   = errors.New("api unavailable")
)

// IsNotFoundError checks if an error is a "not found" error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UserError is a failure whose message is safe to show to the user who invoked
// the command, e.g. a malformed dice expression.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a UserError with the given user-facing message
func NewUserError(format string, args ...any) *UserError {
	if len(args) == 0 {
		return &UserError{Message: format}
	}
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// AsUserError extracts a UserError from the error chain
func AsUserError(err error) (*UserError, bool) {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr, true
	}
	return nil, false
}
