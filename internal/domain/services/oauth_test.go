package services

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/auth/oidc"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

// oauthLogin runs start and callback and returns the callback result
func (e *testEnv) oauthLogin(t *testing.T, linkUserID string) (*Session, error) {
	t.Helper()
	ctx := context.Background()
	start, err := e.svc.StartOAuth(ctx, "example", linkUserID)
	require.NoError(t, err)
	return e.svc.CompleteOAuth(ctx, "example", start.State, start.State, "")
}

func TestStartOAuth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	start, err := env.svc.StartOAuth(ctx, "example", "")
	require.NoError(t, err)

	u, err := url.Parse(start.URL)
	require.NoError(t, err)
	assert.Equal(t, start.State, u.Query().Get("state"))

	_, err = env.svc.StartOAuth(ctx, "myspace", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteOAuth_CreatesUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.setClaims(oidc.Claims{
		Subject:       "sub-1",
		Email:         "Grace@Example.com",
		EmailVerified: true,
		Name:          "Grace Hopper",
		Picture:       "https://idp.example.com/grace.png",
	})

	session, err := env.oauthLogin(t, "")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", session.User.Email)
	assert.Equal(t, "grace-hopper", session.User.Slug)
	assert.True(t, session.User.IsVerified())
	require.NotNil(t, session.User.AvatarURL)
	assert.Equal(t, "https://idp.example.com/grace.png", *session.User.AvatarURL)

	_, err = env.repos.Credentials.Get(ctx, session.User.ID)
	assert.Error(t, err, "OAuth users have no password")

	again, err := env.oauthLogin(t, "")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, again.User.ID)

	_, err = env.svc.Login(ctx, "grace@example.com", testPassword, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCompleteOAuth_StateIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.setClaims(oidc.Claims{Subject: "sub-1", Email: "grace@example.com", EmailVerified: true})

	start, err := env.svc.StartOAuth(ctx, "example", "")
	require.NoError(t, err)

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CompleteOAuth(context.Background(), "example", start.State, start.State, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, 1, successes)
}

func TestCompleteOAuth_RejectsBadCallbacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.setClaims(oidc.Claims{Subject: "sub-1", Email: "grace@example.com"})

	_, err := env.svc.CompleteOAuth(ctx, "example", "forged", "code", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, msgInvalidOAuthState, PublicMessage(err))

	_, err = env.svc.CompleteOAuth(ctx, "example", "", "code", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	start, err := env.svc.StartOAuth(ctx, "example", "")
	require.NoError(t, err)
	_, err = env.svc.CompleteOAuth(ctx, "other", start.State, start.State, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	start, err = env.svc.StartOAuth(ctx, "example", "")
	require.NoError(t, err)
	_, err = env.svc.CompleteOAuth(ctx, "example", start.State, "code-from-another-flow", "")
	assert.ErrorIs(t, err, ErrUnauthorized, "the verifier must match the challenge")

	env.provider.err = oidc.ErrProviderUnavailable
	start, err = env.svc.StartOAuth(ctx, "example", "")
	require.NoError(t, err)
	_, err = env.svc.CompleteOAuth(ctx, "example", start.State, start.State, "")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCompleteOAuth_LinksVerifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	local := env.register(t, "ada@example.com", "Ada")
	require.NoError(t, env.repos.Users.AddRole(ctx, local.User.ID, entities.RoleVerified))

	env.provider.setClaims(oidc.Claims{Subject: "sub-ada", Email: "ada@example.com", EmailVerified: true, Name: "Ada L."})
	session, err := env.oauthLogin(t, "")
	require.NoError(t, err)
	assert.Equal(t, local.User.ID, session.User.ID, "a verified email links to the existing identity")
	assert.True(t, session.User.IsVerified())

	logins, err := env.repos.ExternalLogins.ListByUserID(ctx, local.User.ID)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "sub-ada", logins[0].ProviderUserID)

	_, err = env.svc.Login(ctx, "ada@example.com", testPassword, "")
	assert.NoError(t, err, "the owner's password keeps working after linking")
}

func TestCompleteOAuth_UnverifiedLocalAccountDoesNotLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	squatter := env.register(t, "ada@example.com", "Not Ada")

	env.provider.setClaims(oidc.Claims{Subject: "sub-ada", Email: "ada@example.com", EmailVerified: true})
	_, err := env.oauthLogin(t, "")
	assert.ErrorIs(t, err, ErrConflict)

	logins, err := env.repos.ExternalLogins.ListByUserID(ctx, squatter.User.ID)
	require.NoError(t, err)
	assert.Empty(t, logins)

	user, err := env.repos.Users.GetByID(ctx, squatter.User.ID)
	require.NoError(t, err)
	assert.False(t, user.IsVerified(), "the provider's verification is not granted to the local account")
}

func TestCompleteOAuth_UnverifiedEmailDoesNotLink(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "ada@example.com", "Ada")

	env.provider.setClaims(oidc.Claims{Subject: "sub-ada", Email: "ada@example.com", EmailVerified: false})
	_, err := env.oauthLogin(t, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCompleteOAuth_ExplicitLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.register(t, "ada@example.com", "Ada")
	grace := env.register(t, "grace@example.com", "Grace")

	env.provider.setClaims(oidc.Claims{Subject: "gh-42", Email: "ada-personal@example.org", EmailVerified: false})
	session, err := env.oauthLogin(t, ada.User.ID)
	require.NoError(t, err)
	assert.Equal(t, ada.User.ID, session.User.ID)

	_, err = env.oauthLogin(t, grace.User.ID)
	assert.ErrorIs(t, err, ErrConflict, "a provider account belongs to one identity")

	profile, err := env.svc.GetProfile(ctx, ada.User.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"example"}, profile.Providers)
	assert.True(t, profile.HasPassword)
}

func TestCompleteOAuth_InactiveUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provider.setClaims(oidc.Claims{Subject: "sub-1", Email: "grace@example.com", EmailVerified: true})

	session, err := env.oauthLogin(t, "")
	require.NoError(t, err)
	require.NoError(t, env.svc.Deactivate(ctx, session.User.ID))

	_, err = env.oauthLogin(t, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	user, err := env.repos.Users.GetByID(ctx, session.User.ID)
	require.NoError(t, err)
	assert.False(t, user.Active())
	assert.True(t, user.HasRole(entities.RoleVerified))
}
