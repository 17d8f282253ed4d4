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

// RefreshTokenRepository implements the RefreshTokenRepository interface for PostgreSQL
type RefreshTokenRepository struct {
	db *sqlx.DB
}

var _ repositories.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

// NewRefreshTokenRepository creates a new PostgreSQL refresh token repository
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token_hash, device_name, expires_at, created_at, last_used_at`

func insertRefreshToken(ctx context.Context, ext sqlx.ExtContext, token *entities.RefreshToken) error {
	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO refresh_tokens (` + refreshTokenColumns + `)
		VALUES (:id, :user_id, :token_hash, :device_name, :expires_at, :created_at, :last_used_at)`
	_, err := sqlx.NamedExecContext(ctx, ext, query, token)
	return err
}

// Create stores a new refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, token *entities.RefreshToken) error {
	start := time.Now()
	var err error
	defer func() {
		metrics.RecordDBOperation("refresh_token", "create", time.Since(start), 1, err)
	}()

	if err = insertRefreshToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

// GetByHash retrieves a token by its hash
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*entities.RefreshToken, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "get_by_hash", time.Since(start), rowCount, err)
	}()

	var token entities.RefreshToken
	err = r.db.GetContext(ctx, &token,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrTokenNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	rowCount = 1
	return &token, nil
}

// Rotate deletes the old token and inserts next in one transaction. The
// DELETE takes the row lock, so a concurrent rotation of the same hash
// blocks until this one commits and then deletes nothing.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *entities.RefreshToken) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "rotate", time.Since(start), rowCount, err)
	}()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID string
	err = tx.GetContext(ctx, &userID,
		`DELETE FROM refresh_tokens WHERE token_hash = $1 AND expires_at > $2 RETURNING user_id`,
		oldHash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = repositories.ErrTokenNotFound
			return err
		}
		return fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if next.UserID != userID {
		err = fmt.Errorf("refresh token rotation across users (%s -> %s)", userID, next.UserID)
		return err
	}

	if err = insertRefreshToken(ctx, tx, next); err != nil {
		return fmt.Errorf("failed to store rotated refresh token: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}
	rowCount = 1
	return nil
}

// Delete removes a token by hash
func (r *RefreshTokenRepository) Delete(ctx context.Context, tokenHash string) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "delete", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	return nil
}

// DeleteAllForUser removes every refresh token of a user
func (r *RefreshTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "delete_all_for_user", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens for user: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	return rowCount, nil
}

// UpdateLastUsed stamps last_used_at on a token
func (r *RefreshTokenRepository) UpdateLastUsed(ctx context.Context, tokenHash string, lastUsed time.Time) error {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation("refresh_token", "update_last_used", time.Since(start), rowCount, err)
	}()

	result, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET last_used_at = $2 WHERE token_hash = $1`, tokenHash, lastUsed)
	if err != nil {
		return fmt.Errorf("failed to update refresh token last used: %w", err)
	}
	rowCount, _ = result.RowsAffected()
	return nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return deleteExpired(ctx, r.db, "refresh_tokens", before)
}

// deleteExpired is the cleanup query shared by every token table
func deleteExpired(ctx context.Context, db *sqlx.DB, table string, before time.Time) (int64, error) {
	start := time.Now()
	var err error
	var rowCount int64
	defer func() {
		metrics.RecordDBOperation(table, "delete_expired", time.Since(start), rowCount, err)
	}()

	result, err := db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired %s: %w", table, err)
	}
	rowCount, _ = result.RowsAffected()
	return rowCount, nil
}
