package services

import (
	"errors"

	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

// Error categories. Every error returned by the services wraps exactly one.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("service unavailable")
)

// Messages shared by flows that must not reveal which check failed
const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidRefresh     = "invalid or expired refresh token"
	msgInvalidToken       = "invalid or expired token"
	msgInvalidOAuthState  = "invalid or expired authorization request"
	msgUnavailable        = "service temporarily unavailable"
)

// Error is a categorized service error. Message is safe to show to clients;
// Cause carries the internal detail and is only logged.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the category and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func validationError(message string) *Error {
	return newError(ErrValidation, message, nil)
}

func unauthorized(message string, cause error) *Error {
	return newError(ErrUnauthorized, message, cause)
}

func conflict(message string, cause error) *Error {
	return newError(ErrConflict, message, cause)
}

func notFound(message string, cause error) *Error {
	return newError(ErrNotFound, message, cause)
}

func unavailable(cause error) *Error {
	return newError(ErrUnavailable, msgUnavailable, cause)
}

// PublicMessage returns the client-facing text of err
func PublicMessage(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return "internal error"
}

// Kind returns the category of err, or nil for uncategorized errors
func Kind(err error) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return nil
}

// IsUserNotFound checks if the error indicates user not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, repositories.ErrUserNotFound)
}

// IsTokenNotFound checks if the error indicates a missing or consumed token.
func IsTokenNotFound(err error) bool {
	return errors.Is(err, repositories.ErrTokenNotFound)
}
