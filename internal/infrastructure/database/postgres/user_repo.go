package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// UserRepository implements the UserRepository interface for PostgreSQL
type UserRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "user")),
	}
}

// userRow represents a user as stored in the database
type userRow struct {
	ID          string         `db:"id"`
	Email       string         `db:"email"`
	DisplayName string         `db:"display_name"`
	Slug        string         `db:"slug"`
	AvatarURL   sql.NullString `db:"avatar_url"`
	Roles       pq.StringArray `db:"roles"`
	IsActive    bool           `db:"is_active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	LastLogin   sql.NullTime   `db:"last_login"`
}

const userColumns = `id, email, display_name, slug, avatar_url, roles, is_active, created_at, updated_at, last_login`

// toEntity converts a userRow to a domain entity
func (r *userRow) toEntity() *entities.User {
	user := &entities.User{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		Slug:        r.Slug,
		Roles:       entities.RolesFromStrings(r.Roles),
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.AvatarURL.Valid {
		user.AvatarURL = &r.AvatarURL.String
	}
	if r.LastLogin.Valid {
		user.LastLogin = &r.LastLogin.Time
	}
	return user
}

// userRowFromEntity converts a domain entity to a userRow
func userRowFromEntity(user *entities.User) *userRow {
	row := &userRow{
		ID:          user.ID,
		Email:       strings.ToLower(user.Email),
		DisplayName: user.DisplayName,
		Slug:        user.Slug,
		Roles:       pq.StringArray(user.Roles.Strings()),
		IsActive:    user.IsActive,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
	if user.AvatarURL != nil {
		row.AvatarURL = sql.NullString{String: *user.AvatarURL, Valid: true}
	}
	if user.LastLogin != nil {
		row.LastLogin = sql.NullTime{Time: *user.LastLogin, Valid: true}
	}
	return row
}

// Create creates a new user with its credentials and external login in one transaction
func (r *UserRepository) Create(ctx context.Context, user *entities.User, opts repositories.CreateUserOptions) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("user", "create", time.Since(start), 1, err)
	}()

	if user.ID == "" {
		user.ID = idgen.GenerateID()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if len(user.Roles) == 0 {
		user.Roles = entities.NewRoles(entities.RoleUser)
	}

	r.log.Debug("creating user",
		slog.String("id", user.ID),
		slog.String("slug", user.Slug),
		slog.Bool("password", opts.Credentials != nil),
		slog.Bool("external_login", opts.ExternalLogin != nil))

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO users (` + userColumns + `)
		VALUES (:id, :email, :display_name, :slug, :avatar_url, :roles, :is_active, :created_at, :updated_at, :last_login)`
	if _, err = tx.NamedExecContext(ctx, query, userRowFromEntity(user)); err != nil {
		err = translateUniqueViolation(err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	if c := opts.Credentials; c != nil {
		c.UserID = user.ID
		c.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO local_credentials (user_id, password_hash, updated_at) VALUES ($1, $2, $3)`,
			c.UserID, c.PasswordHash, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
	}

	if l := opts.ExternalLogin; l != nil {
		l.UserID = user.ID
		if err = insertExternalLogin(ctx, tx, l); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by their ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	return r.getOne(ctx, "get_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by email address (case-insensitive)
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	return r.getOne(ctx, "get_by_email", `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) getOne(ctx context.Context, op, query string, arg interface{}) (*entities.User, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", op, time.Since(start), rowCount, err)
	}()

	var row userRow
	err = r.db.GetContext(ctx, &row, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrUserNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	rowCount = 1
	return row.toEntity(), nil
}

// SlugExists reports whether a slug is taken
func (r *UserRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("user", "slug_exists", time.Since(start), 0, err)
	}()

	var exists bool
	err = r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE slug = $1)`, slug)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// Update updates display name, avatar, roles and the active flag
func (r *UserRepository) Update(ctx context.Context, user *entities.User) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "update", time.Since(start), rowCount, err)
	}()

	user.UpdatedAt = time.Now().UTC()
	query := `UPDATE users
		SET display_name = :display_name, avatar_url = :avatar_url, roles = :roles,
		    is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, userRowFromEntity(user))
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	if rowCount == 0 {
		err = repositories.ErrUserNotFound
		return err
	}
	return nil
}

// AddRole grants a role; array_append only runs when the role is missing
func (r *UserRepository) AddRole(ctx context.Context, userID string, role entities.Role) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "add_role", time.Since(start), rowCount, err)
	}()

	var exists bool
	err = r.db.GetContext(ctx, &exists, `
		WITH updated AS (
			UPDATE users SET roles = array_append(roles, $2), updated_at = NOW()
			WHERE id = $1 AND NOT ($2 = ANY(roles))
			RETURNING id
		)
		SELECT EXISTS(SELECT 1 FROM updated) OR EXISTS(SELECT 1 FROM users WHERE id = $1)`,
		userID, string(role))
	if err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	if !exists {
		err = repositories.ErrUserNotFound
		return err
	}
	rowCount = 1
	return nil
}

// UpdateLastLogin updates the user's last login timestamp
func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, loginTime time.Time) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("user", "update_last_login", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, loginTime)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	if rowCount == 0 {
		err = repositories.ErrUserNotFound
		return err
	}
	return nil
}

// SetEmailPreference stores whether the user receives an email type
func (r *UserRepository) SetEmailPreference(ctx context.Context, userID string, emailType entities.EmailType, enabled bool) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("user", "set_email_preference", time.Since(start), 1, err)
	}()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_preferences (user_id, email_type, enabled, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, email_type) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at`,
		userID, string(emailType), enabled)
	if err != nil {
		return fmt.Errorf("failed to set email preference: %w", err)
	}
	return nil
}

// ListEmailPreferences returns the stored preferences of a user
func (r *UserRepository) ListEmailPreferences(ctx context.Context, userID string) ([]*entities.EmailPreference, error) {
	start := time.Now()
	var err error
	var prefs []*entities.EmailPreference
	defer func() {
		metrics.RecordDBOperation("user", "list_email_preferences", time.Since(start), int64(len(prefs)), err)
	}()

	err = r.db.SelectContext(ctx, &prefs, `
		SELECT user_id, email_type, enabled, updated_at
		FROM email_preferences WHERE user_id = $1 ORDER BY email_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list email preferences: %w", err)
	}
	return prefs, nil
}

// CredentialRepository implements the CredentialRepository interface for PostgreSQL
type CredentialRepository struct {
	db *sqlx.DB
}

var _ repositories.CredentialRepository = (*CredentialRepository)(nil)

// NewCredentialRepository creates a new PostgreSQL credential repository
func NewCredentialRepository(db *sqlx.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get returns the credentials of a user
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*entities.LocalCredentials, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("credentials", "get", time.Since(start), 1, err)
	}()

	var creds entities.LocalCredentials
	err = r.db.GetContext(ctx, &creds,
		`SELECT user_id, password_hash, updated_at FROM local_credentials WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrCredentialsNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &creds, nil
}

// Set creates or replaces the password hash of a user
func (r *CredentialRepository) Set(ctx context.Context, userID, passwordHash string) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("credentials", "set", time.Since(start), 1, err)
	}()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO local_credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to set credentials: %w", err)
	}
	return nil
}

// Delete removes the password of a user
func (r *CredentialRepository) Delete(ctx context.Context, userID string) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("credentials", "delete", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM local_credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	if rowCount == 0 {
		err = repositories.ErrCredentialsNotFound
		return err
	}
	return nil
}
