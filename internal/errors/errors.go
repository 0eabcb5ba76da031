package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session gateway
var (
	// Request errors
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidIdentity = errors.New("invalid phone number")

	// Handshake errors
	ErrNotStarted           = errors.New("authentication not started")
	ErrSecondFactorRequired = errors.New("two-factor password required")
	ErrUnauthorized         = errors.New("user not authorized")
	ErrUnknownIdentity      = errors.New("unknown phone number")

	// Collaborator errors
	ErrCollaborator = errors.New("telegram request failed")

	// General errors
	ErrInternal = errors.New("internal error")
)

// CollaboratorError wraps a failure returned by the Telegram client. It matches
// ErrCollaborator and unwraps to the underlying error.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("telegram %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaborator
}

// Collaborator wraps err as a CollaboratorError for op. Returns nil if err is nil.
func Collaborator(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Op: op, Err: err}
}

// Code returns a stable snake_case name for the error's category, used in
// API responses and metric attributes. nil maps to "ok".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidIdentity):
		return "invalid_request"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrSecondFactorRequired):
		return "second_factor_required"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnknownIdentity):
		return "unknown_identity"
	case errors.Is(err, ErrCollaborator):
		return "collaborator_failure"
	}
	return "internal_error"
}

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
