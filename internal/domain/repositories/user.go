package repositories

import (
	"context"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

// UserRepository defines the interface for user data access
type UserRepository interface {
	// Create inserts a user together with its optional local credentials and
	// external login in a single transaction. Returns ErrDuplicateEmail,
	// ErrDuplicateSlug or ErrDuplicateExternalLogin on unique violations.
	Create(ctx context.Context, user *entities.User, opts CreateUserOptions) error

	// GetByID retrieves a user by their ID
	GetByID(ctx context.Context, id string) (*entities.User, error)

	// GetByEmail retrieves a user by their email address (case-insensitive)
	GetByEmail(ctx context.Context, email string) (*entities.User, error)

	// SlugExists reports whether a slug is taken
	SlugExists(ctx context.Context, slug string) (bool, error)

	// Update an existing user (display name, avatar, roles, active flag)
	Update(ctx context.Context, user *entities.User) error

	// AddRole grants a role. Granting a role the user already holds is a no-op.
	AddRole(ctx context.Context, userID string, role entities.Role) error

	// UpdateLastLogin updates the user's last login timestamp
	UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) error

	// SetEmailPreference stores whether the user receives an email type
	SetEmailPreference(ctx context.Context, userID string, emailType entities.EmailType, enabled bool) error

	// ListEmailPreferences returns the stored preferences for a user
	ListEmailPreferences(ctx context.Context, userID string) ([]*entities.EmailPreference, error)
}

// CreateUserOptions carries the rows created alongside a new user
type CreateUserOptions struct {
	Credentials   *entities.LocalCredentials // nil for OAuth-only identities
	ExternalLogin *entities.ExternalLogin    // nil for password registrations
}

// CredentialRepository stores local password hashes
type CredentialRepository interface {
	// Get returns the credentials of a user or ErrCredentialsNotFound
	Get(ctx context.Context, userID string) (*entities.LocalCredentials, error)

	// Set creates or replaces the password hash of a user
	Set(ctx context.Context, userID, passwordHash string) error

	// Delete removes the password of a user, making the identity OAuth-only
	Delete(ctx context.Context, userID string) error
}
