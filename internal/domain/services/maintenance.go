package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupResult counts the rows removed by CleanupExpiredTokens
type CleanupResult struct {
	RefreshTokens      int64
	VerificationTokens int64
	PasswordResets     int64
	UnsubscribeTokens  int64
}

// Total returns the number of rows removed
func (r CleanupResult) Total() int64 {
	return r.RefreshTokens + r.VerificationTokens + r.PasswordResets + r.UnsubscribeTokens
}

// CleanupExpiredTokens removes tokens that expired more than olderThan ago
func (s *AuthService) CleanupExpiredTokens(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	before := s.now().Add(-olderThan)
	var (
		res CleanupResult
		err error
	)

	if res.RefreshTokens, err = s.refreshTokens.DeleteExpired(ctx, before); err != nil {
		return res, fmt.Errorf("failed to cleanup refresh tokens: %w", err)
	}
	if res.VerificationTokens, err = s.verifications.DeleteExpired(ctx, before); err != nil {
		return res, fmt.Errorf("failed to cleanup verification tokens: %w", err)
	}
	if res.PasswordResets, err = s.passwordResets.DeleteExpired(ctx, before); err != nil {
		return res, fmt.Errorf("failed to cleanup password reset tokens: %w", err)
	}
	if res.UnsubscribeTokens, err = s.unsubscribes.DeleteExpired(ctx, before); err != nil {
		return res, fmt.Errorf("failed to cleanup unsubscribe tokens: %w", err)
	}

	if res.Total() > 0 {
		s.log.InfoContext(ctx, "expired tokens removed",
			slog.Int64("refresh", res.RefreshTokens),
			slog.Int64("verification", res.VerificationTokens),
			slog.Int64("password_reset", res.PasswordResets),
			slog.Int64("unsubscribe", res.UnsubscribeTokens),
			slog.String("older_than", olderThan.String()))
	}
	return res, nil
}
