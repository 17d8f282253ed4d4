package repositories

import (
	"context"
)

// Repositories is a collection of all repository interfaces
type Repositories struct {
	Users              UserRepository
	Credentials        CredentialRepository
	ExternalLogins     ExternalLoginRepository
	RefreshTokens      RefreshTokenRepository
	VerificationTokens VerificationTokenRepository
	PasswordResets     PasswordResetTokenRepository
	UnsubscribeTokens  UnsubscribeTokenRepository
}

// HealthChecker defines health check interface for repositories
type HealthChecker interface {
	// HealthCheck performs a health check on the backing store
	HealthCheck(ctx context.Context) error
}
