package repositories

import "errors"

// Domain-specific repository errors
var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrUserInactive is returned when a user exists but is deactivated
	ErrUserInactive = errors.New("user is inactive")

	// ErrCredentialsNotFound is returned when a user has no local password
	ErrCredentialsNotFound = errors.New("local credentials not found")

	// ErrExternalLoginNotFound is returned when no user is linked to a provider account
	ErrExternalLoginNotFound = errors.New("external login not found")

	// ErrTokenNotFound is returned when a token cannot be found, or was
	// already consumed by a concurrent caller
	ErrTokenNotFound = errors.New("token not found")

	// ErrKeyNotFound is returned by the ephemeral store for missing or expired keys
	ErrKeyNotFound = errors.New("key not found")

	// ErrDuplicateEmail is returned when the email is already registered
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateSlug is returned when the slug is already taken
	ErrDuplicateSlug = errors.New("slug already taken")

	// ErrDuplicateExternalLogin is returned when the provider account is
	// already linked to a user
	ErrDuplicateExternalLogin = errors.New("external login already linked")
)
