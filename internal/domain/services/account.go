package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

// Profile is the view of an identity returned to its owner
type Profile struct {
	User             *entities.User
	Providers        []string
	HasPassword      bool
	EmailPreferences map[entities.EmailType]bool
}

// GetProfile loads a user with its linked providers and email preferences
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	logins, err := s.externalLogins.ListByUserID(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	providers := make([]string, 0, len(logins))
	for _, l := range logins {
		providers = append(providers, l.Provider)
	}

	hasPassword := true
	if _, err := s.credentials.Get(ctx, userID); errors.Is(err, repositories.ErrCredentialsNotFound) {
		hasPassword = false
	} else if err != nil {
		return nil, unavailable(err)
	}

	prefs, err := s.emailPreferences(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}

	return &Profile{
		User:             user,
		Providers:        providers,
		HasPassword:      hasPassword,
		EmailPreferences: prefs,
	}, nil
}

// ChangePassword sets a new password. When the user already has one, current
// must match it. Every session of the user ends, as after a reset.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) (err error) {
	defer s.observe("change_password", time.Now(), &err)

	if err := ValidatePassword(next); err != nil {
		return err
	}
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}

	creds, err := s.credentials.Get(ctx, userID)
	switch {
	case errors.Is(err, repositories.ErrCredentialsNotFound):
		// OAuth-only identity adding a password
	case err != nil:
		return unavailable(err)
	case !creds.Matches(current):
		return s.deny(ctx, "change_password", "wrong_password", "current password is incorrect", nil)
	}

	return s.replacePassword(ctx, user, next)
}

// SetPassword replaces a user's password without checking the old one. It is
// the operator path; users go through ChangePassword or a reset.
func (s *AuthService) SetPassword(ctx context.Context, userID, password string) (err error) {
	defer s.observe("set_password", time.Now(), &err)

	if err := ValidatePassword(password); err != nil {
		return err
	}
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.replacePassword(ctx, user, password)
}

func (s *AuthService) replacePassword(ctx context.Context, user *entities.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return unavailable(err)
	}
	if err := s.credentials.Set(ctx, user.ID, hash); err != nil {
		return unavailable(err)
	}
	if _, err := s.refreshTokens.DeleteAllForUser(ctx, user.ID); err != nil {
		return unavailable(err)
	}

	s.log.InfoContext(ctx, "password changed", slog.String("user_id", user.ID))
	s.sendPasswordChanged(ctx, user)
	return nil
}

// RemovePassword makes an identity OAuth-only. It is refused while no
// provider is linked, since the user would have no way back in.
func (s *AuthService) RemovePassword(ctx context.Context, userID string) (err error) {
	defer s.observe("remove_password", time.Now(), &err)

	if _, err := s.activeUser(ctx, userID); err != nil {
		return err
	}
	n, err := s.externalLogins.CountByUserID(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return conflict("link an identity provider before removing the password", nil)
	}
	if err := s.credentials.Delete(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrCredentialsNotFound) {
			return notFound("no password is set", err)
		}
		return unavailable(err)
	}
	s.log.InfoContext(ctx, "password removed", slog.String("user_id", userID))
	return nil
}

// RevokeSessions ends every session of targetUserID. The caller in ctx must
// be an admin.
func (s *AuthService) RevokeSessions(ctx context.Context, targetUserID string) (int64, error) {
	admin, err := auth.RequireAdmin(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			return 0, newError(ErrForbidden, "admin role required", err)
		}
		return 0, unauthorized("authentication required", err)
	}
	if _, err := s.users.GetByID(ctx, targetUserID); err != nil {
		if IsUserNotFound(err) {
			return 0, notFound("user not found", err)
		}
		return 0, unavailable(err)
	}

	n, err := s.LogoutAll(ctx, targetUserID)
	if err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "sessions revoked by admin",
		slog.String("admin_id", admin.UserID),
		slog.String("user_id", targetUserID),
		slog.Int64("count", n))
	return n, nil
}

// Deactivate disables an identity and ends its sessions. The row is kept.
func (s *AuthService) Deactivate(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if IsUserNotFound(err) {
			return notFound("user not found", err)
		}
		return unavailable(err)
	}
	if user.IsActive {
		user.IsActive = false
		if err := s.users.Update(ctx, user); err != nil {
			return unavailable(err)
		}
	}
	if _, err := s.refreshTokens.DeleteAllForUser(ctx, userID); err != nil {
		return unavailable(err)
	}
	s.log.InfoContext(ctx, "user deactivated", slog.String("user_id", userID))
	return nil
}

// GrantRole adds role to a user
func (s *AuthService) GrantRole(ctx context.Context, userID string, role entities.Role) error {
	if !role.Valid() {
		return validationError("unknown role " + string(role))
	}
	if err := s.users.AddRole(ctx, userID, role); err != nil {
		if IsUserNotFound(err) {
			return notFound("user not found", err)
		}
		return unavailable(err)
	}
	return nil
}

// FindUser looks a user up by email when ref is an address, by id otherwise
func (s *AuthService) FindUser(ctx context.Context, ref string) (*entities.User, error) {
	var (
		user *entities.User
		err  error
	)
	if addr, normErr := NormalizeEmail(ref); normErr == nil {
		user, err = s.users.GetByEmail(ctx, addr)
	} else {
		user, err = s.users.GetByID(ctx, ref)
	}
	if IsUserNotFound(err) {
		return nil, notFound("user not found", err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return user, nil
}

// activeUser loads a user for an authenticated request. Deactivated users
// are refused even while their access token is still valid.
func (s *AuthService) activeUser(ctx context.Context, userID string) (*entities.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if IsUserNotFound(err) {
		return nil, unauthorized("authentication required", err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !user.Active() {
		return nil, unauthorized("authentication required", repositories.ErrUserInactive)
	}
	return user, nil
}
