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

// VerificationTokenRepository implements the VerificationTokenRepository interface for PostgreSQL
type VerificationTokenRepository struct {
	db *sqlx.DB
}

var _ repositories.VerificationTokenRepository = (*VerificationTokenRepository)(nil)

// NewVerificationTokenRepository creates a new PostgreSQL verification token repository
func NewVerificationTokenRepository(db *sqlx.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

// Create stores a new verification token
func (r *VerificationTokenRepository) Create(ctx context.Context, token *entities.VerificationToken) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("verification_tokens", "create", time.Since(start), 1, err)
	}()

	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	token.CreatedAt = time.Now().UTC()

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO verification_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES (:id, :user_id, :token_hash, :expires_at, :created_at)`, token)
	if err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return nil
}

// Take deletes and returns the token with the given hash
func (r *VerificationTokenRepository) Take(ctx context.Context, tokenHash string) (*entities.VerificationToken, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("verification_tokens", "take", time.Since(start), rowCount, err)
	}()

	var token entities.VerificationToken
	err = r.db.GetContext(ctx, &token, `
		DELETE FROM verification_tokens WHERE token_hash = $1
		RETURNING id, user_id, token_hash, expires_at, created_at`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrTokenNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to take verification token: %w", err)
	}
	rowCount = 1
	return &token, nil
}

// DeleteAllForUser removes every outstanding verification token of a user
func (r *VerificationTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("verification_tokens", "delete_all_for_user", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete verification tokens: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	return rowCount, nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return deleteExpired(ctx, r.db, "verification_tokens", before)
}

// PasswordResetTokenRepository implements the PasswordResetTokenRepository interface for PostgreSQL
type PasswordResetTokenRepository struct {
	db *sqlx.DB
}

var _ repositories.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)

// NewPasswordResetTokenRepository creates a new PostgreSQL password reset token repository
func NewPasswordResetTokenRepository(db *sqlx.DB) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{db: db}
}

// Create stores a new reset token
func (r *PasswordResetTokenRepository) Create(ctx context.Context, token *entities.PasswordResetToken) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("password_reset_tokens", "create", time.Since(start), 1, err)
	}()

	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	token.CreatedAt = time.Now().UTC()

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at, used_at)
		VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :used_at)`, token)
	if err != nil {
		return fmt.Errorf("failed to create password reset token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token by hash
func (r *PasswordResetTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*entities.PasswordResetToken, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("password_reset_tokens", "get_by_hash", time.Since(start), rowCount, err)
	}()

	var token entities.PasswordResetToken
	err = r.db.GetContext(ctx, &token, `
		SELECT id, user_id, token_hash, expires_at, created_at, used_at
		FROM password_reset_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrTokenNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get password reset token: %w", err)
	}
	rowCount = 1
	return &token, nil
}

// MarkUsed sets used_at on an unused token; the condition makes it a compare-and-swap
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("password_reset_tokens", "mark_used", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to mark password reset token used: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	if rowCount == 0 {
		err = repositories.ErrTokenNotFound
		return err
	}
	return nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *PasswordResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return deleteExpired(ctx, r.db, "password_reset_tokens", before)
}

// UnsubscribeTokenRepository implements the UnsubscribeTokenRepository interface for PostgreSQL
type UnsubscribeTokenRepository struct {
	db *sqlx.DB
}

var _ repositories.UnsubscribeTokenRepository = (*UnsubscribeTokenRepository)(nil)

// NewUnsubscribeTokenRepository creates a new PostgreSQL unsubscribe token repository
func NewUnsubscribeTokenRepository(db *sqlx.DB) *UnsubscribeTokenRepository {
	return &UnsubscribeTokenRepository{db: db}
}

// Upsert stores the token, replacing any token for the same (user, email type)
func (r *UnsubscribeTokenRepository) Upsert(ctx context.Context, token *entities.UnsubscribeToken) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("unsubscribe_tokens", "upsert", time.Since(start), 1, err)
	}()

	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	token.CreatedAt = time.Now().UTC()

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO unsubscribe_tokens (id, user_id, email_type, token_hash, expires_at, created_at)
		VALUES (:id, :user_id, :email_type, :token_hash, :expires_at, :created_at)
		ON CONFLICT (user_id, email_type) DO UPDATE
		SET id = EXCLUDED.id, token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`, token)
	if err != nil {
		return fmt.Errorf("failed to upsert unsubscribe token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token by hash
func (r *UnsubscribeTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*entities.UnsubscribeToken, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("unsubscribe_tokens", "get_by_hash", time.Since(start), rowCount, err)
	}()

	var token entities.UnsubscribeToken
	err = r.db.GetContext(ctx, &token, `
		SELECT id, user_id, email_type, token_hash, expires_at, created_at
		FROM unsubscribe_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrTokenNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get unsubscribe token: %w", err)
	}
	rowCount = 1
	return &token, nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *UnsubscribeTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return deleteExpired(ctx, r.db, "unsubscribe_tokens", before)
}
