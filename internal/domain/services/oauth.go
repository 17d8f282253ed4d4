package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/devilmonastery/gatehouse/internal/auth/oidc"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
)

const oauthStatePrefix = "oauth_state:"

// oauthState is stored under the state parameter until the callback
type oauthState struct {
	Verifier   string `json:"verifier"`
	Provider   string `json:"provider"`
	LinkUserID string `json:"link_user_id,omitempty"`
}

// OAuthStart is where to send the browser to begin a provider login
type OAuthStart struct {
	URL   string
	State string
}

// StartOAuth creates a single-use state with a fresh PKCE verifier and
// returns the provider's authorization URL. A non-empty linkUserID makes the
// callback link the provider account to that user instead of signing in.
func (s *AuthService) StartOAuth(ctx context.Context, providerName, linkUserID string) (start *OAuthStart, err error) {
	defer s.observe("oauth_start", time.Now(), &err)

	provider, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if linkUserID != "" {
		if _, err := s.activeUser(ctx, linkUserID); err != nil {
			return nil, err
		}
	}

	state, _, err := newSecret()
	if err != nil {
		return nil, unavailable(err)
	}
	verifier := oauth2.GenerateVerifier()
	payload, err := json.Marshal(oauthState{
		Verifier:   verifier,
		Provider:   provider.Name(),
		LinkUserID: linkUserID,
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if err := s.ephemeral.Set(ctx, oauthStatePrefix+state, string(payload), s.cfg.PKCEStateTTL); err != nil {
		return nil, unavailable(err)
	}

	authURL, err := provider.AuthCodeURL(ctx, state, verifier)
	if err != nil {
		return nil, unavailable(err)
	}
	return &OAuthStart{URL: authURL, State: state}, nil
}

// CompleteOAuth handles the provider callback. The state is consumed before
// anything else, so a replayed or forged callback fails with Unauthorized.
func (s *AuthService) CompleteOAuth(ctx context.Context, providerName, state, code, deviceName string) (session *Session, err error) {
	defer s.observe("oauth_callback", time.Now(), &err)

	if state == "" {
		return nil, s.deny(ctx, "oauth_callback", "state_missing", msgInvalidOAuthState, nil)
	}
	raw, err := s.ephemeral.Take(ctx, oauthStatePrefix+state)
	if errors.Is(err, repositories.ErrKeyNotFound) {
		return nil, s.deny(ctx, "oauth_callback", "state_miss", msgInvalidOAuthState, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}

	var st oauthState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, s.deny(ctx, "oauth_callback", "state_corrupt", msgInvalidOAuthState, err)
	}
	if st.Provider != providerName {
		return nil, s.deny(ctx, "oauth_callback", "provider_mismatch", msgInvalidOAuthState, nil)
	}
	if code == "" {
		return nil, validationError("authorization code is required")
	}

	provider, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	claims, err := provider.Exchange(ctx, code, st.Verifier)
	if err != nil {
		if errors.Is(err, oidc.ErrProviderUnavailable) {
			return nil, unavailable(err)
		}
		return nil, s.deny(ctx, "oauth_callback", "exchange_rejected", "sign-in with "+providerName+" failed", err)
	}

	user, err := s.resolveExternalLogin(ctx, providerName, claims, st.LinkUserID)
	if err != nil {
		return nil, err
	}
	if !user.Active() {
		return nil, s.deny(ctx, "oauth_callback", "inactive", "sign-in with "+providerName+" failed", repositories.ErrUserInactive)
	}

	s.refreshAvatar(ctx, user, claims.Picture)
	s.touchLastLogin(ctx, user)
	return s.issueSession(ctx, user, deviceName)
}

// resolveExternalLogin finds or creates the identity behind provider claims:
// an existing link wins, then an explicit link request, then a user whose
// email both the provider and gatehouse have verified, and finally a new
// OAuth-only user. An unverified local account with the same email is never
// merged into.
func (s *AuthService) resolveExternalLogin(ctx context.Context, providerName string, claims *oidc.Claims, linkUserID string) (*entities.User, error) {
	existing, err := s.externalLogins.GetByProvider(ctx, providerName, claims.Subject)
	switch {
	case err == nil:
		if linkUserID != "" && existing.UserID != linkUserID {
			return nil, conflict("this "+providerName+" account is linked to another user", repositories.ErrDuplicateExternalLogin)
		}
		return s.loginUser(ctx, existing.UserID)
	case !errors.Is(err, repositories.ErrExternalLoginNotFound):
		return nil, unavailable(err)
	}

	addr, err := NormalizeEmail(claims.Email)
	if err != nil {
		return nil, s.deny(ctx, "oauth_callback", "bad_email", "sign-in with "+providerName+" failed", err)
	}
	login := &entities.ExternalLogin{
		ID:             idgen.GenerateID(),
		Provider:       providerName,
		ProviderUserID: claims.Subject,
		Email:          addr,
		LinkedAt:       s.now().UTC(),
	}

	if linkUserID != "" {
		user, err := s.activeUser(ctx, linkUserID)
		if err != nil {
			return nil, err
		}
		return s.link(ctx, user, login)
	}

	user, err := s.users.GetByEmail(ctx, addr)
	switch {
	case err == nil && claims.EmailVerified && user.IsVerified():
		// both sides have proven the address
		return s.link(ctx, user, login)
	case err == nil:
		return nil, conflict("an account with this email exists; sign in and link "+providerName+" from your profile", repositories.ErrDuplicateEmail)
	case !IsUserNotFound(err):
		return nil, unavailable(err)
	}

	roles := entities.NewRoles(entities.RoleUser)
	if claims.EmailVerified {
		roles = roles.With(entities.RoleVerified)
	}
	displayName, err := normalizeDisplayName(claims.Name, addr)
	if err != nil {
		displayName, _ = normalizeDisplayName("", addr)
	}
	user = &entities.User{
		Email:       addr,
		DisplayName: displayName,
		Roles:       roles,
		IsActive:    true,
	}
	if claims.Picture != "" {
		picture := claims.Picture
		user.AvatarURL = &picture
	}

	err = s.createUser(ctx, user, repositories.CreateUserOptions{ExternalLogin: login})
	if errors.Is(err, repositories.ErrDuplicateExternalLogin) {
		// a concurrent callback for the same account created it first
		return s.loginByProvider(ctx, providerName, claims.Subject)
	}
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user created from external login",
		slog.String("user_id", user.ID),
		slog.String("provider", providerName))
	return user, nil
}

func (s *AuthService) link(ctx context.Context, user *entities.User, login *entities.ExternalLogin) (*entities.User, error) {
	login.UserID = user.ID
	err := s.externalLogins.Create(ctx, login)
	if errors.Is(err, repositories.ErrDuplicateExternalLogin) {
		linked, getErr := s.externalLogins.GetByProvider(ctx, login.Provider, login.ProviderUserID)
		if getErr == nil && linked.UserID == user.ID {
			return user, nil
		}
		return nil, conflict("this "+login.Provider+" account is linked to another user", err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	s.log.InfoContext(ctx, "external login linked",
		slog.String("user_id", user.ID),
		slog.String("login", login.ProviderKey()))
	return user, nil
}

func (s *AuthService) loginByProvider(ctx context.Context, providerName, subject string) (*entities.User, error) {
	login, err := s.externalLogins.GetByProvider(ctx, providerName, subject)
	if err != nil {
		return nil, unavailable(err)
	}
	return s.loginUser(ctx, login.UserID)
}

func (s *AuthService) loginUser(ctx context.Context, userID string) (*entities.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, unavailable(fmt.Errorf("external login points at missing user %s: %w", userID, err))
	}
	return user, nil
}

// refreshAvatar keeps the picture of the most recent provider login
func (s *AuthService) refreshAvatar(ctx context.Context, user *entities.User, picture string) {
	if picture == "" || (user.AvatarURL != nil && *user.AvatarURL == picture) {
		return
	}
	user.AvatarURL = &picture
	if err := s.users.Update(ctx, user); err != nil {
		s.log.WarnContext(ctx, "failed to update avatar", slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
}

func (s *AuthService) provider(name string) (oidc.Provider, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return nil, notFound(fmt.Sprintf("unknown identity provider %q", name), err)
	}
	return p, nil
}
