// Package memory holds in-process implementations of the repositories. They
// back the unit tests and the "memory" database driver for local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
)

// DB is a single lock-protected dataset shared by every memory repository,
// so multi-table writes are atomic the same way a transaction would be
type DB struct {
	mu sync.Mutex

	users          map[string]*entities.User
	credentials    map[string]*entities.LocalCredentials
	externalLogins map[string]*entities.ExternalLogin // key: provider + ":" + provider user id
	preferences    map[string]map[entities.EmailType]*entities.EmailPreference

	refreshTokens      map[string]*entities.RefreshToken // key: token hash
	verificationTokens map[string]*entities.VerificationToken
	resetTokens        map[string]*entities.PasswordResetToken
	unsubscribeTokens  map[string]*entities.UnsubscribeToken
}

// New creates an empty dataset
func New() *DB {
	return &DB{
		users:              make(map[string]*entities.User),
		credentials:        make(map[string]*entities.LocalCredentials),
		externalLogins:     make(map[string]*entities.ExternalLogin),
		preferences:        make(map[string]map[entities.EmailType]*entities.EmailPreference),
		refreshTokens:      make(map[string]*entities.RefreshToken),
		verificationTokens: make(map[string]*entities.VerificationToken),
		resetTokens:        make(map[string]*entities.PasswordResetToken),
		unsubscribeTokens:  make(map[string]*entities.UnsubscribeToken),
	}
}

// Repositories returns every repository backed by this dataset
func (d *DB) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:              &UserRepository{db: d},
		Credentials:        &CredentialRepository{db: d},
		ExternalLogins:     &ExternalLoginRepository{db: d},
		RefreshTokens:      &RefreshTokenRepository{db: d},
		VerificationTokens: &VerificationTokenRepository{db: d},
		PasswordResets:     &PasswordResetTokenRepository{db: d},
		UnsubscribeTokens:  &UnsubscribeTokenRepository{db: d},
	}
}

// HealthCheck always succeeds
func (d *DB) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// UserRepository is the memory implementation of repositories.UserRepository
type UserRepository struct {
	db *DB
}

var _ repositories.UserRepository = (*UserRepository)(nil)

func copyUser(u *entities.User) *entities.User {
	c := *u
	c.Roles = append(entities.Roles(nil), u.Roles...)
	return &c
}

// Create inserts the user and its optional rows, checking every unique key first
func (r *UserRepository) Create(ctx context.Context, user *entities.User, opts repositories.CreateUserOptions) error {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	email := strings.ToLower(user.Email)
	for _, u := range d.users {
		if u.Email == email {
			return repositories.ErrDuplicateEmail
		}
		if u.Slug == user.Slug {
			return repositories.ErrDuplicateSlug
		}
	}
	if l := opts.ExternalLogin; l != nil {
		if _, ok := d.externalLogins[l.Provider+":"+l.ProviderUserID]; ok {
			return repositories.ErrDuplicateExternalLogin
		}
	}

	if user.ID == "" {
		user.ID = idgen.GenerateID()
	}
	now := time.Now().UTC()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	if len(user.Roles) == 0 {
		user.Roles = entities.NewRoles(entities.RoleUser)
	}
	d.users[user.ID] = copyUser(user)

	if c := opts.Credentials; c != nil {
		c.UserID = user.ID
		c.UpdatedAt = now
		stored := *c
		d.credentials[user.ID] = &stored
	}
	if l := opts.ExternalLogin; l != nil {
		l.UserID = user.ID
		d.insertExternalLogin(l)
	}
	return nil
}

// GetByID retrieves a user by their ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return copyUser(u), nil
}

// GetByEmail retrieves a user by email address (case-insensitive)
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range r.db.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

// SlugExists reports whether a slug is taken
func (r *UserRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// Update replaces the mutable fields of a user
func (r *UserRepository) Update(ctx context.Context, user *entities.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	existing, ok := r.db.users[user.ID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	existing.DisplayName = user.DisplayName
	existing.AvatarURL = user.AvatarURL
	existing.Roles = append(entities.Roles(nil), user.Roles...)
	existing.IsActive = user.IsActive
	existing.UpdatedAt = user.UpdatedAt
	return nil
}

// AddRole grants a role
func (r *UserRepository) AddRole(ctx context.Context, userID string, role entities.Role) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.Roles = u.Roles.With(role)
	return nil
}

// UpdateLastLogin updates the user's last login timestamp
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.LastLogin = &loginTime
	return nil
}

// SetEmailPreference stores whether the user receives an email type
func (r *UserRepository) SetEmailPreference(ctx context.Context, userID string, emailType entities.EmailType, enabled bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	prefs, ok := r.db.preferences[userID]
	if !ok {
		prefs = make(map[entities.EmailType]*entities.EmailPreference)
		r.db.preferences[userID] = prefs
	}
	prefs[emailType] = &entities.EmailPreference{
		UserID:    userID,
		EmailType: emailType,
		Enabled:   enabled,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// ListEmailPreferences returns the stored preferences of a user ordered by type
func (r *UserRepository) ListEmailPreferences(ctx context.Context, userID string) ([]*entities.EmailPreference, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entities.EmailPreference
	for _, t := range []entities.EmailType{entities.EmailTypeProductUpdates, entities.EmailTypeSecurityNotices} {
		if p, ok := r.db.preferences[userID][t]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

// CredentialRepository is the memory implementation of repositories.CredentialRepository
type CredentialRepository struct {
	db *DB
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)

// Get returns the credentials of a user
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*entities.LocalCredentials, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.credentials[userID]
	if !ok {
		return nil, repositories.ErrCredentialsNotFound
	}
	out := *c
	return &out, nil
}

// Set creates or replaces the password hash of a user
func (r *CredentialRepository) Set(ctx context.Context, userID, passwordHash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[userID]; !ok {
		return repositories.ErrUserNotFound
	}
	r.db.credentials[userID] = &entities.LocalCredentials{
		UserID:       userID,
		PasswordHash: passwordHash,
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

// Delete removes the password of a user
func (r *CredentialRepository) Delete(ctx context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.credentials[userID]; !ok {
		return repositories.ErrCredentialsNotFound
	}
	delete(r.db.credentials, userID)
	return nil
}

// ExternalLoginRepository is the memory implementation of repositories.ExternalLoginRepository
type ExternalLoginRepository struct {
	db *DB
}

var _ repositories.ExternalLoginRepository = (*ExternalLoginRepository)(nil)

// insertExternalLogin stores a copy of l. Caller holds d.mu.
func (d *DB) insertExternalLogin(l *entities.ExternalLogin) {
	if l.ID == "" {
		l.ID = idgen.GenerateID()
	}
	if l.LinkedAt.IsZero() {
		l.LinkedAt = time.Now().UTC()
	}
	stored := *l
	d.externalLogins[l.Provider+":"+l.ProviderUserID] = &stored
}

// Create links a provider account to an existing user
func (r *ExternalLoginRepository) Create(ctx context.Context, login *entities.ExternalLogin) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.users[login.UserID]; !ok {
		return repositories.ErrUserNotFound
	}
	if _, ok := r.db.externalLogins[login.Provider+":"+login.ProviderUserID]; ok {
		return repositories.ErrDuplicateExternalLogin
	}
	r.db.insertExternalLogin(login)
	return nil
}

// GetByProvider retrieves a link by provider and provider user ID
func (r *ExternalLoginRepository) GetByProvider(ctx context.Context, provider, providerUserID string) (*entities.ExternalLogin, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.externalLogins[provider+":"+providerUserID]
	if !ok {
		return nil, repositories.ErrExternalLoginNotFound
	}
	out := *l
	return &out, nil
}

// ListByUserID retrieves all links of a user
func (r *ExternalLoginRepository) ListByUserID(ctx context.Context, userID string) ([]*entities.ExternalLogin, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*entities.ExternalLogin
	for _, l := range r.db.externalLogins {
		if l.UserID == userID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkedAt.Before(out[j].LinkedAt) })
	return out, nil
}

// CountByUserID counts how many providers a user has linked
func (r *ExternalLoginRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, l := range r.db.externalLogins {
		if l.UserID == userID {
			n++
		}
	}
	return n, nil
}
