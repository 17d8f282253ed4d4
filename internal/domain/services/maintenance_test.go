package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/pkg/idgen"
)

func TestCleanupExpiredTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := env.register(t, "ada@example.com", "Ada")

	past := time.Now().Add(-48 * time.Hour)
	_, hash, err := newSecret()
	require.NoError(t, err)
	require.NoError(t, env.repos.RefreshTokens.Create(ctx, &entities.RefreshToken{
		ID: idgen.GenerateID(), UserID: session.User.ID, TokenHash: hash, ExpiresAt: past, CreatedAt: past,
	}))
	_, hash, err = newSecret()
	require.NoError(t, err)
	require.NoError(t, env.repos.PasswordResets.Create(ctx, &entities.PasswordResetToken{
		ID: idgen.GenerateID(), UserID: session.User.ID, TokenHash: hash, ExpiresAt: past, CreatedAt: past,
	}))

	res, err := env.svc.CleanupExpiredTokens(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RefreshTokens)
	assert.Equal(t, int64(1), res.PasswordResets)
	assert.Equal(t, int64(0), res.VerificationTokens, "the registration token is still valid")
	assert.Equal(t, int64(2), res.Total())

	_, err = env.svc.Refresh(ctx, session.RefreshToken, "")
	assert.NoError(t, err, "live sessions survive cleanup")
}
