package repositories

import (
	"context"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

// ExternalLoginRepository defines the interface for provider account links.
// Users can link several providers (Google, GitHub, etc.) to a single account.
type ExternalLoginRepository interface {
	// Create links a provider account to an existing user.
	// Returns ErrDuplicateExternalLogin if the pair is already linked.
	Create(ctx context.Context, login *entities.ExternalLogin) error

	// GetByProvider retrieves a link by provider and provider user ID.
	// This is the primary lookup during OAuth login.
	GetByProvider(ctx context.Context, provider, providerUserID string) (*entities.ExternalLogin, error)

	// ListByUserID retrieves all links of a user
	ListByUserID(ctx context.Context, userID string) ([]*entities.ExternalLogin, error)

	// CountByUserID counts how many providers a user has linked.
	// Used to refuse removing the password of a user with no other way in.
	CountByUserID(ctx context.Context, userID string) (int, error)
}
