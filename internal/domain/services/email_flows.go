package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/email"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
	"github.com/devilmonastery/gatehouse/internal/pkg/urlutil"
)

// VerifyEmail redeems a verification token and grants RoleVerified. Sibling
// tokens issued earlier are deleted with it.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) (user *entities.User, err error) {
	defer s.observe("verify_email", time.Now(), &err)

	if rawToken == "" {
		return nil, validationError("token is required")
	}

	token, err := s.verifications.Take(ctx, HashToken(rawToken))
	if IsTokenNotFound(err) {
		return nil, s.deny(ctx, "verify_email", "not_found", msgInvalidToken, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !s.now().Before(token.ExpiresAt) {
		return nil, s.deny(ctx, "verify_email", "expired", msgInvalidToken, nil)
	}

	if err := s.users.AddRole(ctx, token.UserID, entities.RoleVerified); err != nil {
		if IsUserNotFound(err) {
			return nil, s.deny(ctx, "verify_email", "user_missing", msgInvalidToken, err)
		}
		return nil, unavailable(err)
	}
	if _, err := s.verifications.DeleteAllForUser(ctx, token.UserID); err != nil {
		s.log.WarnContext(ctx, "failed to delete sibling verification tokens",
			slog.String("user_id", token.UserID),
			slog.String("error", err.Error()))
	}

	user, err = s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return nil, unavailable(err)
	}
	s.log.InfoContext(ctx, "email verified", slog.String("user_id", user.ID))
	return user, nil
}

// ResendVerification issues a fresh verification email. Already verified
// users get nothing.
func (s *AuthService) ResendVerification(ctx context.Context, userID string) (err error) {
	defer s.observe("resend_verification", time.Now(), &err)

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsVerified() {
		return nil
	}
	if err := s.sendVerification(ctx, user); err != nil {
		return unavailable(err)
	}
	return nil
}

// RequestPasswordReset emails a reset link when the address belongs to an
// active user. The result is the same whether or not it does.
func (s *AuthService) RequestPasswordReset(ctx context.Context, emailAddr string) (err error) {
	defer s.observe("password_reset_request", time.Now(), &err)

	addr, err := NormalizeEmail(emailAddr)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, addr)
	if IsUserNotFound(err) {
		s.log.InfoContext(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return unavailable(err)
	}
	if !user.Active() {
		s.log.InfoContext(ctx, "password reset requested for inactive user", slog.String("user_id", user.ID))
		return nil
	}

	raw, hash, err := newSecret()
	if err != nil {
		return unavailable(err)
	}
	now := s.now().UTC()
	token := &entities.PasswordResetToken{
		ID:        idgen.GenerateID(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.cfg.PasswordResetTTL),
		CreatedAt: now,
	}
	if err := s.passwordResets.Create(ctx, token); err != nil {
		return unavailable(err)
	}

	link, err := urlutil.ResetPasswordURL(s.cfg.PublicBaseURL, raw)
	if err != nil {
		return unavailable(err)
	}
	s.mailer.Send(ctx, email.TemplatePasswordReset, user.Email, email.Data{
		Name:      user.DisplayName,
		Link:      link,
		ExpiresIn: email.FormatExpiry(s.cfg.PasswordResetTTL),
	})
	return nil
}

// ConfirmPasswordReset redeems a reset token and sets the new password. The
// token is marked used before the hash is written, so of two concurrent
// confirms only one gets through. Every session of the user ends.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) (err error) {
	defer s.observe("password_reset_confirm", time.Now(), &err)

	if rawToken == "" {
		return validationError("token is required")
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	token, err := s.passwordResets.GetByHash(ctx, HashToken(rawToken))
	if IsTokenNotFound(err) {
		return s.deny(ctx, "password_reset_confirm", "not_found", msgInvalidToken, err)
	}
	if err != nil {
		return unavailable(err)
	}
	if token.IsUsed() {
		return s.deny(ctx, "password_reset_confirm", "used", msgInvalidToken, nil)
	}
	if !s.now().Before(token.ExpiresAt) {
		return s.deny(ctx, "password_reset_confirm", "expired", msgInvalidToken, nil)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if IsUserNotFound(err) {
		return s.deny(ctx, "password_reset_confirm", "user_missing", msgInvalidToken, err)
	}
	if err != nil {
		return unavailable(err)
	}
	if !user.Active() {
		return s.deny(ctx, "password_reset_confirm", "inactive", msgInvalidToken, nil)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return unavailable(err)
	}

	if err := s.passwordResets.MarkUsed(ctx, token.ID, s.now().UTC()); err != nil {
		if IsTokenNotFound(err) {
			return s.deny(ctx, "password_reset_confirm", "used_concurrently", msgInvalidToken, err)
		}
		return unavailable(err)
	}
	if err := s.credentials.Set(ctx, user.ID, hash); err != nil {
		return unavailable(err)
	}
	n, err := s.refreshTokens.DeleteAllForUser(ctx, user.ID)
	if err != nil {
		return unavailable(err)
	}

	s.log.InfoContext(ctx, "password reset", slog.String("user_id", user.ID), slog.Int64("sessions_revoked", n))
	s.sendPasswordChanged(ctx, user)
	return nil
}

// Unsubscribe disables the email type bound to an unsubscribe token.
// Redeeming the same token again changes nothing.
func (s *AuthService) Unsubscribe(ctx context.Context, rawToken string) (emailType entities.EmailType, err error) {
	defer s.observe("unsubscribe", time.Now(), &err)

	token, err := s.lookupUnsubscribe(ctx, "unsubscribe", rawToken)
	if err != nil {
		return "", err
	}
	if err := s.users.SetEmailPreference(ctx, token.UserID, token.EmailType, false); err != nil {
		return "", unavailable(err)
	}
	s.log.InfoContext(ctx, "unsubscribed",
		slog.String("user_id", token.UserID),
		slog.String("email_type", string(token.EmailType)))
	return token.EmailType, nil
}

// CheckUnsubscribe reports the email type an unsubscribe token would disable
// without changing anything.
func (s *AuthService) CheckUnsubscribe(ctx context.Context, rawToken string) (entities.EmailType, error) {
	token, err := s.lookupUnsubscribe(ctx, "unsubscribe_check", rawToken)
	if err != nil {
		return "", err
	}
	return token.EmailType, nil
}

func (s *AuthService) lookupUnsubscribe(ctx context.Context, op, rawToken string) (*entities.UnsubscribeToken, error) {
	if rawToken == "" {
		return nil, validationError("token is required")
	}
	token, err := s.unsubscribes.GetByHash(ctx, HashToken(rawToken))
	if IsTokenNotFound(err) {
		return nil, s.deny(ctx, op, "not_found", msgInvalidToken, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !s.now().Before(token.ExpiresAt) {
		return nil, s.deny(ctx, op, "expired", msgInvalidToken, nil)
	}
	return token, nil
}

// SetEmailPreference turns an email type on or off. Turning it on replaces the
// unsubscribe token of that type and returns its one-click link.
func (s *AuthService) SetEmailPreference(ctx context.Context, userID string, emailType entities.EmailType, enabled bool) (string, error) {
	if !emailType.Valid() {
		return "", validationError(fmt.Sprintf("unknown email type %q", emailType))
	}
	if _, err := s.activeUser(ctx, userID); err != nil {
		return "", err
	}
	if err := s.users.SetEmailPreference(ctx, userID, emailType, enabled); err != nil {
		return "", unavailable(err)
	}
	if !enabled {
		return "", nil
	}
	link, err := s.issueUnsubscribeURL(ctx, userID, emailType)
	if err != nil {
		return "", unavailable(err)
	}
	return link, nil
}

// emailPreferences returns every known email type with its effective value.
// Types without a stored preference are enabled.
func (s *AuthService) emailPreferences(ctx context.Context, userID string) (map[entities.EmailType]bool, error) {
	stored, err := s.users.ListEmailPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	prefs := map[entities.EmailType]bool{
		entities.EmailTypeProductUpdates:  true,
		entities.EmailTypeSecurityNotices: true,
	}
	for _, p := range stored {
		prefs[p.EmailType] = p.Enabled
	}
	return prefs, nil
}

func (s *AuthService) issueUnsubscribeURL(ctx context.Context, userID string, emailType entities.EmailType) (string, error) {
	raw, hash, err := newSecret()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	token := &entities.UnsubscribeToken{
		ID:        idgen.GenerateID(),
		UserID:    userID,
		EmailType: emailType,
		TokenHash: hash,
		ExpiresAt: now.Add(s.cfg.UnsubscribeTTL),
		CreatedAt: now,
	}
	if err := s.unsubscribes.Upsert(ctx, token); err != nil {
		return "", err
	}
	return urlutil.UnsubscribeURL(s.cfg.PublicBaseURL, raw)
}

// sendVerification stores a verification token and queues its email
func (s *AuthService) sendVerification(ctx context.Context, user *entities.User) error {
	raw, hash, err := newSecret()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	token := &entities.VerificationToken{
		ID:        idgen.GenerateID(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.cfg.VerificationTTL),
		CreatedAt: now,
	}
	if err := s.verifications.Create(ctx, token); err != nil {
		return err
	}

	link, err := urlutil.VerifyEmailURL(s.cfg.PublicBaseURL, raw)
	if err != nil {
		return err
	}
	s.mailer.Send(ctx, email.TemplateVerifyEmail, user.Email, email.Data{
		Name:      user.DisplayName,
		Link:      link,
		ExpiresIn: email.FormatExpiry(s.cfg.VerificationTTL),
	})
	return nil
}

// sendPasswordChanged notifies the user unless security notices are off.
// Failures are logged only.
func (s *AuthService) sendPasswordChanged(ctx context.Context, user *entities.User) {
	prefs, err := s.emailPreferences(ctx, user.ID)
	if err != nil {
		s.log.WarnContext(ctx, "failed to load email preferences", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return
	}
	if !prefs[entities.EmailTypeSecurityNotices] {
		return
	}
	unsubscribe, err := s.issueUnsubscribeURL(ctx, user.ID, entities.EmailTypeSecurityNotices)
	if err != nil {
		s.log.WarnContext(ctx, "failed to issue unsubscribe link", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return
	}
	s.mailer.Send(ctx, email.TemplatePasswordChanged, user.Email, email.Data{
		Name:           user.DisplayName,
		UnsubscribeURL: unsubscribe,
	})
}
