package repositories

import (
	"context"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

// RefreshTokenRepository defines the interface for refresh token data access.
// Tokens are looked up by the hash of the client secret.
type RefreshTokenRepository interface {
	// Create stores a new refresh token
	Create(ctx context.Context, token *entities.RefreshToken) error

	// GetByHash retrieves a token by its hash or returns ErrTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (*entities.RefreshToken, error)

	// Rotate deletes the unexpired token identified by oldHash and stores next
	// in one atomic step. If no such token exists (already rotated, revoked or
	// expired) it returns ErrTokenNotFound and stores nothing. Among concurrent
	// callers presenting the same oldHash at most one succeeds.
	Rotate(ctx context.Context, oldHash string, next *entities.RefreshToken) error

	// Delete removes a token by hash. Deleting a missing token is not an error.
	Delete(ctx context.Context, tokenHash string) error

	// DeleteAllForUser removes every refresh token of a user
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// UpdateLastUsed stamps last_used_at on a token
	UpdateLastUsed(ctx context.Context, tokenHash string, lastUsed time.Time) error

	// DeleteExpired removes tokens that expired before the given time (cleanup job)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// VerificationTokenRepository defines the interface for email verification tokens
type VerificationTokenRepository interface {
	// Create stores a new verification token
	Create(ctx context.Context, token *entities.VerificationToken) error

	// Take deletes and returns the token with the given hash.
	// Returns ErrTokenNotFound if it does not exist.
	Take(ctx context.Context, tokenHash string) (*entities.VerificationToken, error)

	// DeleteAllForUser removes every outstanding verification token of a user
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes tokens that expired before the given time (cleanup job)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PasswordResetTokenRepository defines the interface for password reset tokens
type PasswordResetTokenRepository interface {
	// Create stores a new reset token
	Create(ctx context.Context, token *entities.PasswordResetToken) error

	// GetByHash retrieves a token by hash or returns ErrTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (*entities.PasswordResetToken, error)

	// MarkUsed sets used_at on an unused token. Returns ErrTokenNotFound if the
	// token does not exist or was already used, so only one caller can redeem it.
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error

	// DeleteExpired removes tokens that expired before the given time (cleanup job)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// UnsubscribeTokenRepository defines the interface for one-click unsubscribe tokens
type UnsubscribeTokenRepository interface {
	// Upsert stores the token, replacing any existing token for the same
	// (user, email type)
	Upsert(ctx context.Context, token *entities.UnsubscribeToken) error

	// GetByHash retrieves a token by hash or returns ErrTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (*entities.UnsubscribeToken, error)

	// DeleteExpired removes tokens that expired before the given time (cleanup job)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
