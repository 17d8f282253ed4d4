package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/gatehouse/internal/domain/services"
)

func newTokenCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token maintenance commands",
		Long:  "Commands for maintaining refresh and emailed tokens in the Gatehouse database",
	}

	cmd.AddCommand(newTokenCleanupCommand(configPath))

	return cmd
}

func newTokenCleanupCommand(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired tokens",
		Long: `Delete refresh, verification, password reset and unsubscribe tokens that
expired before now minus --older-than.

Expired tokens are already rejected; cleanup only reclaims space. Run it from
cron or a scheduled job.

Examples:
  # Remove everything already expired
  server token cleanup

  # Keep a week of expired rows for investigation
  server token cleanup --older-than 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, svc *services.AuthService) error {
				return cleanupTokens(ctx, svc, olderThan)
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only delete tokens that expired at least this long ago")

	return cmd
}

func cleanupTokens(ctx context.Context, svc *services.AuthService, olderThan time.Duration) error {
	if olderThan < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}
	res, err := svc.CleanupExpiredTokens(ctx, olderThan)
	if err != nil {
		return err
	}
	slog.Info("Token cleanup finished",
		"refresh_tokens", res.RefreshTokens,
		"verification_tokens", res.VerificationTokens,
		"password_reset_tokens", res.PasswordResets,
		"unsubscribe_tokens", res.UnsubscribeTokens,
		"total", res.Total())
	return nil
}
