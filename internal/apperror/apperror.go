package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("Validation Error")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrUpstream          = errors.New("upstream failure")
	ErrInvalidLink       = errors.New("invalid or expired link")
	ErrSignupDataMissing = errors.New("signup data missing")
	ErrUserNotFound      = errors.New("user not found")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: lower-level error kept for logs, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Validation collapses several validation messages into one error.
// The messages are joined with ", " the same way the API reports them.
func Validation(messages ...string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: strings.Join(messages, ", "),
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: message,
	}
}

// Upstream wraps a failure of the identity provider or the store.
// op names the call that failed, e.g. "send magic link".
// EmailTaken reports a signup for an email that already has a profile.
func EmailTaken(cause error) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: "An account with this email already exists. Please log in.",
		Field:   "email",
		Cause:   cause,
	}
}

func Upstream(op string, cause error) *AppError {
	msg := "failed to " + op
	if cause != nil {
		msg = fmt.Sprintf("failed to %s: %s", op, cause.Error())
	}
	return &AppError{
		Err:     ErrUpstream,
		Message: msg,
		Cause:   cause,
	}
}

func InvalidLink() *AppError {
	return &AppError{
		Err:     ErrInvalidLink,
		Message: "Invalid or expired magic link",
	}
}

func SignupDataMissing(email string) *AppError {
	return &AppError{
		Err:     ErrSignupDataMissing,
		Message: "Signup data not found. Please sign up again.",
		Field:   email,
	}
}

func UserNotFound() *AppError {
	return &AppError{
		Err:     ErrUserNotFound,
		Message: "No account found with this email address. Please sign up first.",
	}
}
