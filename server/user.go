package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/services"
)

func newUserCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management commands",
		Long:  "Commands for managing users in the Gatehouse database",
	}

	cmd.AddCommand(newUserCreateCommand(configPath))
	cmd.AddCommand(newUserSetPasswordCommand(configPath))
	cmd.AddCommand(newUserGrantRoleCommand(configPath))
	cmd.AddCommand(newUserRevokeSessionsCommand(configPath))
	cmd.AddCommand(newUserDeactivateCommand(configPath))

	return cmd
}

func newUserCreateCommand(configPath *string) *cobra.Command {
	var (
		email    string
		password string
		name     string
		roles    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Long:  "Create a local user with the specified email, password and roles. The password is prompted for when --password is omitted.",
		Example: `  # Create an admin user
  server user create --email admin@example.com --role admin --name "Admin User"

  # Create a pre-verified user non-interactively
  server user create --email user@example.com --password 'long enough' --role verified`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, svc *services.AuthService) error {
				return createUser(ctx, svc, email, password, name, roles)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "User email (required)")
	cmd.Flags().StringVar(&password, "password", "", "User password (prompted when omitted)")
	cmd.Flags().StringVar(&name, "name", "", "User display name (optional)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Extra roles to grant (verified, admin); repeatable")

	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func createUser(ctx context.Context, svc *services.AuthService, email, password, name string, roles []string) error {
	grant := make([]entities.Role, 0, len(roles))
	for _, r := range roles {
		role := entities.Role(strings.TrimSpace(r))
		if !role.Valid() {
			return fmt.Errorf("invalid role: %s (must be one of user, verified, admin)", r)
		}
		grant = append(grant, role)
	}

	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	user, err := svc.CreateLocalUser(ctx, services.RegisterInput{
		Email:       email,
		Password:    password,
		DisplayName: name,
	}, grant...)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("User created successfully",
		"user_id", user.ID,
		"email", user.Email,
		"display_name", user.DisplayName,
		"slug", user.Slug,
		"roles", user.Roles.Strings(),
	)
	return nil
}

func newUserSetPasswordCommand(configPath *string) *cobra.Command {
	var (
		ref      string
		password string
	)

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Set a user's password",
		Long:  "Replace a user's password and end all of their sessions. The password is prompted for when --password is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, svc *services.AuthService) error {
				user, err := svc.FindUser(ctx, ref)
				if err != nil {
					return err
				}
				if password == "" {
					if password, err = promptPassword(); err != nil {
						return err
					}
				}
				if err := svc.SetPassword(ctx, user.ID, password); err != nil {
					return fmt.Errorf("failed to set password: %w", err)
				}
				slog.Info("Password updated", "user_id", user.ID, "email", user.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "user", "", "User email or ID (required)")
	cmd.Flags().StringVar(&password, "password", "", "New password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newUserGrantRoleCommand(configPath *string) *cobra.Command {
	var (
		ref  string
		role string
	)

	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant a role to a user",
		Long:  "Grant a role to a user. It appears in access tokens issued from now on.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, svc *services.AuthService) error {
				user, err := svc.FindUser(ctx, ref)
				if err != nil {
					return err
				}
				if err := svc.GrantRole(ctx, user.ID, entities.Role(role)); err != nil {
					return fmt.Errorf("failed to grant role: %w", err)
				}
				slog.Info("Role granted", "user_id", user.ID, "role", role)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "user", "", "User email or ID (required)")
	cmd.Flags().StringVar(&role, "role", "", "Role to grant: user, verified or admin (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func newUserRevokeSessionsCommand(configPath *string) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "revoke-sessions",
		Short: "End every session of a user",
		Long:  "Delete every refresh token of a user. Access tokens already issued stay valid until they expire.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, svc *services.AuthService) error {
				user, err := svc.FindUser(ctx, ref)
				if err != nil {
					return err
				}
				n, err := svc.LogoutAll(ctx, user.ID)
				if err != nil {
					return fmt.Errorf("failed to revoke sessions: %w", err)
				}
				slog.Info("Sessions revoked", "user_id", user.ID, "count", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "user", "", "User email or ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newUserDeactivateCommand(configPath *string) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a user",
		Long:  "Prevent a user from signing in or refreshing and end all of their sessions. The account is kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, svc *services.AuthService) error {
				user, err := svc.FindUser(ctx, ref)
				if err != nil {
					return err
				}
				if err := svc.Deactivate(ctx, user.ID); err != nil {
					return fmt.Errorf("failed to deactivate user: %w", err)
				}
				slog.Info("User deactivated", "user_id", user.ID, "email", user.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ref, "user", "", "User email or ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// withApp loads configuration, connects the database and runs fn
func withApp(ctx context.Context, configPath string, fn func(ctx context.Context, svc *services.AuthService) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "memory" {
		return errors.New("admin commands need a persistent database; set database.driver to postgres")
	}
	return runWithApp(ctx, cfg, fn)
}

func runWithApp(ctx context.Context, cfg *config.Config, fn func(ctx context.Context, svc *services.AuthService) error) error {
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.svc)
}

// promptPassword reads a password twice without echo. Without a terminal it
// reads one line from stdin.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
