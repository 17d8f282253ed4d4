package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
)

// RefreshTokenRepository is the memory implementation of repositories.RefreshTokenRepository
type RefreshTokenRepository struct {
	db *DB
}

var _ repositories.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

func (d *DB) insertRefreshToken(t *entities.RefreshToken) {
	if t.ID == "" {
		t.ID = idgen.GenerateID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	stored := *t
	d.refreshTokens[t.TokenHash] = &stored
}

// Create stores a new refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, token *entities.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.insertRefreshToken(token)
	return nil
}

// GetByHash retrieves a token by its hash
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*entities.RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.refreshTokens[tokenHash]
	if !ok {
		return nil, repositories.ErrTokenNotFound
	}
	out := *t
	return &out, nil
}

// Rotate swaps the old token for next under the dataset lock
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next *entities.RefreshToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.refreshTokens[oldHash]
	if !ok || old.IsExpired() {
		return repositories.ErrTokenNotFound
	}
	if old.UserID != next.UserID {
		return fmt.Errorf("refresh token rotation across users (%s -> %s)", old.UserID, next.UserID)
	}
	delete(r.db.refreshTokens, oldHash)
	r.db.insertRefreshToken(next)
	return nil
}

// Delete removes a token by hash
func (r *RefreshTokenRepository) Delete(ctx context.Context, tokenHash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.refreshTokens, tokenHash)
	return nil
}

// DeleteAllForUser removes every refresh token of a user
func (r *RefreshTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.refreshTokens {
		if t.UserID == userID {
			delete(r.db.refreshTokens, hash)
			n++
		}
	}
	return n, nil
}

// UpdateLastUsed stamps last_used_at on a token
func (r *RefreshTokenRepository) UpdateLastUsed(ctx context.Context, tokenHash string, lastUsed time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t, ok := r.db.refreshTokens[tokenHash]; ok {
		t.LastUsedAt = &lastUsed
	}
	return nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.refreshTokens {
		if t.ExpiresAt.Before(before) {
			delete(r.db.refreshTokens, hash)
			n++
		}
	}
	return n, nil
}

// VerificationTokenRepository is the memory implementation of repositories.VerificationTokenRepository
type VerificationTokenRepository struct {
	db *DB
}

var _ repositories.VerificationTokenRepository = (*VerificationTokenRepository)(nil)

// Create stores a new verification token
func (r *VerificationTokenRepository) Create(ctx context.Context, token *entities.VerificationToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	token.CreatedAt = time.Now().UTC()
	stored := *token
	r.db.verificationTokens[token.TokenHash] = &stored
	return nil
}

// Take deletes and returns the token with the given hash
func (r *VerificationTokenRepository) Take(ctx context.Context, tokenHash string) (*entities.VerificationToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.verificationTokens[tokenHash]
	if !ok {
		return nil, repositories.ErrTokenNotFound
	}
	delete(r.db.verificationTokens, tokenHash)
	return t, nil
}

// DeleteAllForUser removes every outstanding verification token of a user
func (r *VerificationTokenRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.verificationTokens {
		if t.UserID == userID {
			delete(r.db.verificationTokens, hash)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *VerificationTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.verificationTokens {
		if t.ExpiresAt.Before(before) {
			delete(r.db.verificationTokens, hash)
			n++
		}
	}
	return n, nil
}

// PasswordResetTokenRepository is the memory implementation of repositories.PasswordResetTokenRepository
type PasswordResetTokenRepository struct {
	db *DB
}

var _ repositories.PasswordResetTokenRepository = (*PasswordResetTokenRepository)(nil)

// Create stores a new reset token
func (r *PasswordResetTokenRepository) Create(ctx context.Context, token *entities.PasswordResetToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	token.CreatedAt = time.Now().UTC()
	stored := *token
	r.db.resetTokens[token.TokenHash] = &stored
	return nil
}

// GetByHash retrieves a token by hash
func (r *PasswordResetTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*entities.PasswordResetToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.resetTokens[tokenHash]
	if !ok {
		return nil, repositories.ErrTokenNotFound
	}
	out := *t
	return &out, nil
}

// MarkUsed sets used_at on an unused token
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.resetTokens {
		if t.ID == id {
			if t.UsedAt != nil {
				return repositories.ErrTokenNotFound
			}
			t.UsedAt = &usedAt
			return nil
		}
	}
	return repositories.ErrTokenNotFound
}

// DeleteExpired removes tokens that expired before the given time
func (r *PasswordResetTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.resetTokens {
		if t.ExpiresAt.Before(before) {
			delete(r.db.resetTokens, hash)
			n++
		}
	}
	return n, nil
}

// UnsubscribeTokenRepository is the memory implementation of repositories.UnsubscribeTokenRepository
type UnsubscribeTokenRepository struct {
	db *DB
}

var _ repositories.UnsubscribeTokenRepository = (*UnsubscribeTokenRepository)(nil)

// Upsert stores the token, replacing any token for the same (user, email type)
func (r *UnsubscribeTokenRepository) Upsert(ctx context.Context, token *entities.UnsubscribeToken) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for hash, t := range r.db.unsubscribeTokens {
		if t.UserID == token.UserID && t.EmailType == token.EmailType {
			delete(r.db.unsubscribeTokens, hash)
		}
	}
	if token.ID == "" {
		token.ID = idgen.GenerateID()
	}
	token.CreatedAt = time.Now().UTC()
	stored := *token
	r.db.unsubscribeTokens[token.TokenHash] = &stored
	return nil
}

// GetByHash retrieves a token by hash
func (r *UnsubscribeTokenRepository) GetByHash(ctx context.Context, tokenHash string) (*entities.UnsubscribeToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.unsubscribeTokens[tokenHash]
	if !ok {
		return nil, repositories.ErrTokenNotFound
	}
	out := *t
	return &out, nil
}

// DeleteExpired removes tokens that expired before the given time
func (r *UnsubscribeTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.unsubscribeTokens {
		if t.ExpiresAt.Before(before) {
			delete(r.db.unsubscribeTokens, hash)
			n++
		}
	}
	return n, nil
}
