package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
	"github.com/devilmonastery/gatehouse/internal/pkg/metrics"
)

// ExternalLoginRepository implements the ExternalLoginRepository interface for PostgreSQL
type ExternalLoginRepository struct {
	db *sqlx.DB
}

var _ repositories.ExternalLoginRepository = (*ExternalLoginRepository)(nil)

// NewExternalLoginRepository creates a new PostgreSQL external login repository
func NewExternalLoginRepository(db *sqlx.DB) *ExternalLoginRepository {
	return &ExternalLoginRepository{db: db}
}

const externalLoginColumns = `id, user_id, provider, provider_user_id, email, linked_at`

// insertExternalLogin is shared with user creation, which runs it inside its transaction
func insertExternalLogin(ctx context.Context, ext sqlx.ExtContext, login *entities.ExternalLogin) error {
	if login.ID == "" {
		login.ID = idgen.GenerateID()
	}
	if login.LinkedAt.IsZero() {
		login.LinkedAt = time.Now().UTC()
	}

	query := `INSERT INTO external_logins (` + externalLoginColumns + `)
		VALUES (:id, :user_id, :provider, :provider_user_id, :email, :linked_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, login); err != nil {
		return fmt.Errorf("failed to create external login: %w", translateUniqueViolation(err))
	}
	return nil
}

// Create links a provider account to an existing user
func (r *ExternalLoginRepository) Create(ctx context.Context, login *entities.ExternalLogin) error {
	start := time.Now()
	err := insertExternalLogin(ctx, r.db, login)
	metrics.RecordDBOperation("external_login", "create", time.Since(start), 1, err)
	return err
}

// GetByProvider retrieves a link by provider and provider user ID
func (r *ExternalLoginRepository) GetByProvider(ctx context.Context, provider, providerUserID string) (*entities.ExternalLogin, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("external_login", "get_by_provider", time.Since(start), 1, err)
	}()

	var login entities.ExternalLogin
	err = r.db.GetContext(ctx, &login,
		`SELECT `+externalLoginColumns+` FROM external_logins WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrExternalLoginNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get external login: %w", err)
	}
	return &login, nil
}

// ListByUserID retrieves all links of a user
func (r *ExternalLoginRepository) ListByUserID(ctx context.Context, userID string) ([]*entities.ExternalLogin, error) {
	start := time.Now()
	var err error
	var logins []*entities.ExternalLogin
	defer func() {
		metrics.RecordDBOperation("external_login", "list_by_user", time.Since(start), int64(len(logins)), err)
	}()

	err = r.db.SelectContext(ctx, &logins,
		`SELECT `+externalLoginColumns+` FROM external_logins WHERE user_id = $1 ORDER BY linked_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list external logins: %w", err)
	}
	return logins, nil
}

// CountByUserID counts how many providers a user has linked
func (r *ExternalLoginRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("external_login", "count_by_user", time.Since(start), 0, err)
	}()

	var count int
	err = r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM external_logins WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count external logins: %w", err)
	}
	return count, nil
}
