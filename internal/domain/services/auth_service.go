package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/auth/oidc"
	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// maxCreateAttempts bounds retries when a concurrent registration takes the
// slug we picked
const maxCreateAttempts = 3

const maxDeviceNameLength = 255

// Config holds the token lifetimes and link base of the auth flows
type Config struct {
	RefreshTokenTTL  time.Duration
	VerificationTTL  time.Duration
	PasswordResetTTL time.Duration
	UnsubscribeTTL   time.Duration
	PKCEStateTTL     time.Duration
	PublicBaseURL    string
}

// ConfigFrom extracts the service settings from the application config
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		RefreshTokenTTL:  cfg.Auth.RefreshTokenTTL,
		VerificationTTL:  cfg.Auth.VerificationTTL,
		PasswordResetTTL: cfg.Auth.PasswordResetTTL,
		UnsubscribeTTL:   cfg.Auth.UnsubscribeTTL,
		PKCEStateTTL:     cfg.Auth.PKCEStateTTL,
		PublicBaseURL:    cfg.HTTP.PublicBaseURL,
	}
}

// Dependencies are the collaborators of AuthService
type Dependencies struct {
	Repositories *repositories.Repositories
	Ephemeral    repositories.EphemeralStore
	JWT          *auth.JWTManager
	Hasher       *PasswordHasher
	Mailer       *Mailer
	Providers    *oidc.Registry
}

// AuthService provides business logic for authentication workflows. It keeps
// no mutable state of its own; every instance behind a load balancer sees the
// same stores.
type AuthService struct {
	users          repositories.UserRepository
	credentials    repositories.CredentialRepository
	externalLogins repositories.ExternalLoginRepository
	refreshTokens  repositories.RefreshTokenRepository
	verifications  repositories.VerificationTokenRepository
	passwordResets repositories.PasswordResetTokenRepository
	unsubscribes   repositories.UnsubscribeTokenRepository
	ephemeral      repositories.EphemeralStore

	jwt       *auth.JWTManager
	hasher    *PasswordHasher
	slugs     *SlugGenerator
	mailer    *Mailer
	providers *oidc.Registry

	cfg Config
	log *slog.Logger
	now func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(deps Dependencies, cfg Config) *AuthService {
	providers := deps.Providers
	if providers == nil {
		providers = oidc.NewRegistry()
	}
	repos := deps.Repositories
	return &AuthService{
		users:          repos.Users,
		credentials:    repos.Credentials,
		externalLogins: repos.ExternalLogins,
		refreshTokens:  repos.RefreshTokens,
		verifications:  repos.VerificationTokens,
		passwordResets: repos.PasswordResets,
		unsubscribes:   repos.UnsubscribeTokens,
		ephemeral:      deps.Ephemeral,
		jwt:            deps.JWT,
		hasher:         deps.Hasher,
		slugs:          NewSlugGenerator(repos.Users),
		mailer:         deps.Mailer,
		providers:      providers,
		cfg:            cfg,
		log:            slog.Default().With(slog.String("component", "auth")),
		now:            time.Now,
	}
}

// Providers returns the names of the configured identity providers
func (s *AuthService) Providers() []string {
	return s.providers.List()
}

// Session is the token pair handed to a client after authentication
type Session struct {
	User             *entities.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterInput carries a local registration
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	DeviceName  string
}

// Register creates a local identity, signs it in and sends the verification
// email. A failed email does not undo the registration.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (session *Session, err error) {
	defer s.observe("register", time.Now(), &err)

	user, err := s.CreateLocalUser(ctx, in)
	if err != nil {
		return nil, err
	}

	session, err = s.issueSession(ctx, user, in.DeviceName)
	if err != nil {
		return nil, err
	}

	if err := s.sendVerification(ctx, user); err != nil {
		s.log.WarnContext(ctx, "failed to start email verification",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()))
	}

	s.log.InfoContext(ctx, "user registered", slog.String("user_id", user.ID), slog.String("slug", user.Slug))
	return session, nil
}

// CreateLocalUser validates the input and stores a user with a password.
// Extra roles are granted on top of RoleUser.
func (s *AuthService) CreateLocalUser(ctx context.Context, in RegisterInput, roles ...entities.Role) (*entities.User, error) {
	addr, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	displayName, err := normalizeDisplayName(in.DisplayName, addr)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if !r.Valid() {
			return nil, validationError("unknown role " + string(r))
		}
	}

	if _, err := s.users.GetByEmail(ctx, addr); err == nil {
		return nil, conflict("email already registered", repositories.ErrDuplicateEmail)
	} else if !IsUserNotFound(err) {
		return nil, unavailable(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, unavailable(err)
	}

	user := &entities.User{
		Email:       addr,
		DisplayName: displayName,
		Roles:       entities.NewRoles(append(roles, entities.RoleUser)...),
		IsActive:    true,
	}
	err = s.createUser(ctx, user, repositories.CreateUserOptions{
		Credentials: &entities.LocalCredentials{PasswordHash: hash},
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// createUser picks a slug and inserts the user, retrying when a concurrent
// insert takes the slug first
func (s *AuthService) createUser(ctx context.Context, user *entities.User, opts repositories.CreateUserOptions) error {
	for attempt := 1; ; attempt++ {
		slug, err := s.slugs.Generate(ctx, user.DisplayName)
		if err != nil {
			return unavailable(err)
		}
		user.ID = idgen.GenerateID()
		user.Slug = slug

		err = s.users.Create(ctx, user, opts)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repositories.ErrDuplicateSlug) && attempt < maxCreateAttempts:
			s.log.DebugContext(ctx, "slug taken concurrently, retrying", slog.String("slug", slug))
		case errors.Is(err, repositories.ErrDuplicateEmail):
			return conflict("email already registered", err)
		case errors.Is(err, repositories.ErrDuplicateExternalLogin):
			return conflict("provider account already linked", err)
		default:
			return unavailable(err)
		}
	}
}

// Login authenticates with email and password. Unknown email, missing
// password, wrong password and deactivated account all fail the same way.
func (s *AuthService) Login(ctx context.Context, emailAddr, password, deviceName string) (session *Session, err error) {
	defer s.observe("login", time.Now(), &err)

	addr, err := NormalizeEmail(emailAddr)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, validationError("password is required")
	}

	user, err := s.users.GetByEmail(ctx, addr)
	if IsUserNotFound(err) {
		s.hasher.CompareDummy(password)
		return nil, s.deny(ctx, "login", "unknown_email", msgInvalidCredentials, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}

	creds, err := s.credentials.Get(ctx, user.ID)
	if errors.Is(err, repositories.ErrCredentialsNotFound) {
		s.hasher.CompareDummy(password)
		return nil, s.deny(ctx, "login", "no_password", msgInvalidCredentials, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !creds.Matches(password) {
		return nil, s.deny(ctx, "login", "wrong_password", msgInvalidCredentials, nil)
	}
	if !user.Active() {
		return nil, s.deny(ctx, "login", "inactive", msgInvalidCredentials, repositories.ErrUserInactive)
	}

	s.touchLastLogin(ctx, user)
	return s.issueSession(ctx, user, deviceName)
}

// Refresh rotates a refresh token. The old token is deleted and its
// successor stored in one step, so a replayed token always fails.
func (s *AuthService) Refresh(ctx context.Context, rawToken, deviceName string) (session *Session, err error) {
	defer s.observe("refresh", time.Now(), &err)

	if rawToken == "" {
		return nil, unauthorized(msgInvalidRefresh, nil)
	}
	oldHash := HashToken(rawToken)

	old, err := s.refreshTokens.GetByHash(ctx, oldHash)
	if IsTokenNotFound(err) {
		return nil, s.deny(ctx, "refresh", "not_found", msgInvalidRefresh, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !s.now().Before(old.ExpiresAt) {
		return nil, s.deny(ctx, "refresh", "expired", msgInvalidRefresh, nil)
	}

	user, err := s.users.GetByID(ctx, old.UserID)
	if IsUserNotFound(err) {
		return nil, s.deny(ctx, "refresh", "user_missing", msgInvalidRefresh, err)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if !user.Active() {
		return nil, s.deny(ctx, "refresh", "inactive", msgInvalidRefresh, repositories.ErrUserInactive)
	}

	access, accessExp, err := s.jwt.Issue(user.ID, user.Roles)
	if err != nil {
		return nil, unavailable(err)
	}

	if deviceName == "" {
		deviceName = old.DeviceName
	}
	raw, next, err := s.newRefreshToken(user.ID, deviceName)
	if err != nil {
		return nil, unavailable(err)
	}

	if err := s.refreshTokens.Rotate(ctx, oldHash, next); err != nil {
		if !IsTokenNotFound(err) {
			return nil, unavailable(err)
		}
		if err := s.refreshTokens.UpdateLastUsed(ctx, oldHash, s.now()); err != nil && !IsTokenNotFound(err) {
			s.log.DebugContext(ctx, "failed to stamp superseded refresh token", slog.String("error", err.Error()))
		}
		s.log.WarnContext(ctx, "refresh token reused", slog.String("user_id", user.ID))
		return nil, s.deny(ctx, "refresh", "rotation_lost", msgInvalidRefresh, err)
	}

	return &Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout deletes the presented refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, rawToken string) (err error) {
	defer s.observe("logout", time.Now(), &err)

	if rawToken == "" {
		return validationError("refresh token is required")
	}
	if err := s.refreshTokens.Delete(ctx, HashToken(rawToken)); err != nil {
		return unavailable(err)
	}
	return nil
}

// LogoutAll deletes every refresh token of a user and returns how many
// sessions ended
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (n int64, err error) {
	defer s.observe("logout_all", time.Now(), &err)

	n, err = s.refreshTokens.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	s.log.InfoContext(ctx, "all sessions revoked", slog.String("user_id", userID), slog.Int64("count", n))
	return n, nil
}

// VerifyAccessToken checks a bearer token and returns its identity
func (s *AuthService) VerifyAccessToken(tokenString string) (*auth.UserContext, error) {
	claims, err := s.jwt.Verify(tokenString)
	if err != nil {
		return nil, unauthorized("invalid or expired access token", err)
	}
	return auth.NewUserContext(claims), nil
}

func (s *AuthService) newRefreshToken(userID, deviceName string) (string, *entities.RefreshToken, error) {
	raw, hash, err := newSecret()
	if err != nil {
		return "", nil, err
	}
	deviceName = truncateDeviceName(deviceName)
	now := s.now().UTC()
	return raw, &entities.RefreshToken{
		ID:         idgen.GenerateID(),
		UserID:     userID,
		TokenHash:  hash,
		DeviceName: deviceName,
		ExpiresAt:  now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:  now,
	}, nil
}

// truncateDeviceName drops invalid UTF-8 and cuts the name to at most
// maxDeviceNameLength bytes without splitting a rune
func truncateDeviceName(name string) string {
	name = strings.ToValidUTF8(name, "")
	if len(name) <= maxDeviceNameLength {
		return name
	}
	cut := maxDeviceNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// issueSession mints an access token and a brand-new refresh token
func (s *AuthService) issueSession(ctx context.Context, user *entities.User, deviceName string) (*Session, error) {
	access, accessExp, err := s.jwt.Issue(user.ID, user.Roles)
	if err != nil {
		return nil, unavailable(err)
	}
	raw, token, err := s.newRefreshToken(user.ID, deviceName)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := s.refreshTokens.Create(ctx, token); err != nil {
		return nil, unavailable(err)
	}
	return &Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     raw,
		RefreshExpiresAt: token.ExpiresAt,
	}, nil
}

func (s *AuthService) touchLastLogin(ctx context.Context, user *entities.User) {
	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.WarnContext(ctx, "failed to update last login", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return
	}
	user.LastLogin = &now
}

// deny logs an authentication failure with its internal reason and returns
// the generic error the caller sees
func (s *AuthService) deny(ctx context.Context, operation, reason, message string, cause error) error {
	s.log.InfoContext(ctx, "authentication denied",
		slog.String("operation", operation),
		slog.String("reason", reason))
	return unauthorized(message, cause)
}

func (s *AuthService) observe(operation string, start time.Time, err *error) {
	metrics.RecordAuthOperation(operation, outcome(*err), time.Since(start))
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch Kind(err) {
	case ErrValidation:
		return "invalid"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrConflict:
		return "conflict"
	case ErrNotFound:
		return "not_found"
	default:
		return "error"
	}
}
