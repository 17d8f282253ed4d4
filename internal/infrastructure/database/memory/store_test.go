package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
)

func newUser(t *testing.T, repos *repositories.Repositories, email, slug string) *entities.User {
	t.Helper()
	u := &entities.User{Email: email, DisplayName: slug, Slug: slug, IsActive: true}
	require.NoError(t, repos.Users.Create(context.Background(), u, repositories.CreateUserOptions{}))
	return u
}

func TestUserRepository_UniqueKeys(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	u := newUser(t, repos, "Ada@Example.com", "ada")

	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, entities.NewRoles(entities.RoleUser), u.Roles)

	err := repos.Users.Create(ctx, &entities.User{Email: "ADA@example.com", Slug: "other"}, repositories.CreateUserOptions{})
	assert.ErrorIs(t, err, repositories.ErrDuplicateEmail)

	err = repos.Users.Create(ctx, &entities.User{Email: "b@example.com", Slug: "ada"}, repositories.CreateUserOptions{})
	assert.ErrorIs(t, err, repositories.ErrDuplicateSlug)

	found, err := repos.Users.GetByEmail(ctx, "ADA@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
}

func TestUserRepository_CreateWithExternalLoginIsAtomic(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	first := &entities.User{Email: "a@example.com", Slug: "a"}
	require.NoError(t, repos.Users.Create(ctx, first, repositories.CreateUserOptions{
		ExternalLogin: &entities.ExternalLogin{Provider: "github", ProviderUserID: "1"},
	}))

	second := &entities.User{Email: "b@example.com", Slug: "b"}
	err := repos.Users.Create(ctx, second, repositories.CreateUserOptions{
		ExternalLogin: &entities.ExternalLogin{Provider: "github", ProviderUserID: "1"},
	})
	assert.ErrorIs(t, err, repositories.ErrDuplicateExternalLogin)

	_, err = repos.Users.GetByEmail(ctx, "b@example.com")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound, "the user must not exist without its login")
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	u := newUser(t, repos, "a@example.com", "a")

	got, err := repos.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	got.Roles = got.Roles.With(entities.RoleAdmin)

	again, err := repos.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, again.IsAdmin())

	require.NoError(t, repos.Users.AddRole(ctx, u.ID, entities.RoleAdmin))
	require.NoError(t, repos.Users.AddRole(ctx, u.ID, entities.RoleAdmin))
	again, err = repos.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.NewRoles(entities.RoleAdmin, entities.RoleUser), again.Roles)
}

func TestRefreshTokenRepository_RotateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	u := newUser(t, repos, "a@example.com", "a")
	require.NoError(t, repos.RefreshTokens.Create(ctx, &entities.RefreshToken{
		UserID: u.ID, TokenHash: "old", ExpiresAt: time.Now().Add(time.Hour),
	}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &entities.RefreshToken{UserID: u.ID, TokenHash: "new-" + string(rune('a'+i)), ExpiresAt: time.Now().Add(time.Hour)}
			if err := repos.RefreshTokens.Rotate(ctx, "old", next); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, repositories.ErrTokenNotFound)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err := repos.RefreshTokens.GetByHash(ctx, "old")
	assert.ErrorIs(t, err, repositories.ErrTokenNotFound)
}

func TestRefreshTokenRepository_RotateExpired(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	u := newUser(t, repos, "a@example.com", "a")
	require.NoError(t, repos.RefreshTokens.Create(ctx, &entities.RefreshToken{
		UserID: u.ID, TokenHash: "old", ExpiresAt: time.Now().Add(-time.Second),
	}))

	err := repos.RefreshTokens.Rotate(ctx, "old", &entities.RefreshToken{UserID: u.ID, TokenHash: "new", ExpiresAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, repositories.ErrTokenNotFound)

	_, err = repos.RefreshTokens.GetByHash(ctx, "new")
	assert.ErrorIs(t, err, repositories.ErrTokenNotFound)
}

func TestPasswordResetTokenRepository_MarkUsedOnce(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	tok := &entities.PasswordResetToken{UserID: "u1", TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repos.PasswordResets.Create(ctx, tok))

	require.NoError(t, repos.PasswordResets.MarkUsed(ctx, tok.ID, time.Now()))
	assert.ErrorIs(t, repos.PasswordResets.MarkUsed(ctx, tok.ID, time.Now()), repositories.ErrTokenNotFound)

	got, err := repos.PasswordResets.GetByHash(ctx, "h")
	require.NoError(t, err)
	assert.True(t, got.IsUsed())
}

func TestUnsubscribeTokenRepository_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	exp := time.Now().Add(time.Hour)
	require.NoError(t, repos.UnsubscribeTokens.Upsert(ctx, &entities.UnsubscribeToken{UserID: "u1", EmailType: entities.EmailTypeProductUpdates, TokenHash: "first", ExpiresAt: exp}))
	require.NoError(t, repos.UnsubscribeTokens.Upsert(ctx, &entities.UnsubscribeToken{UserID: "u1", EmailType: entities.EmailTypeProductUpdates, TokenHash: "second", ExpiresAt: exp}))
	require.NoError(t, repos.UnsubscribeTokens.Upsert(ctx, &entities.UnsubscribeToken{UserID: "u1", EmailType: entities.EmailTypeSecurityNotices, TokenHash: "third", ExpiresAt: exp}))

	_, err := repos.UnsubscribeTokens.GetByHash(ctx, "first")
	assert.ErrorIs(t, err, repositories.ErrTokenNotFound)
	_, err = repos.UnsubscribeTokens.GetByHash(ctx, "second")
	assert.NoError(t, err)
	_, err = repos.UnsubscribeTokens.GetByHash(ctx, "third")
	assert.NoError(t, err)
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	now := time.Now()
	require.NoError(t, repos.VerificationTokens.Create(ctx, &entities.VerificationToken{UserID: "u", TokenHash: "stale", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, repos.VerificationTokens.Create(ctx, &entities.VerificationToken{UserID: "u", TokenHash: "fresh", ExpiresAt: now.Add(time.Minute)}))

	n, err := repos.VerificationTokens.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tok, err := repos.VerificationTokens.Take(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "u", tok.UserID)
	_, err = repos.VerificationTokens.Take(ctx, "fresh")
	assert.ErrorIs(t, err, repositories.ErrTokenNotFound)
}
