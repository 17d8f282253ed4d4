package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/devilmonastery/gatehouse/internal/config"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

// fakeIdP is a minimal authorization server. It remembers the challenge of
// the last authorization request and only honours a matching verifier.
type fakeIdP struct {
	t         *testing.T
	server    *httptest.Server
	key       *rsa.PrivateKey
	challenge string
	issueID   bool
	userinfo  map[string]interface{}
	idClaims  jwt.MapClaims
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIdP{t: t, key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"issuer":                 f.server.URL,
			"authorization_endpoint": f.server.URL + "/authorize",
			"token_endpoint":         f.server.URL + "/token",
			"userinfo_endpoint":      f.server.URL + "/userinfo",
			"jwks_uri":               f.server.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		pub := f.key.PublicKey
		writeJSON(w, map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "test-key",
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" || oauth2.S256ChallengeFromVerifier(r.Form.Get("code_verifier")) != f.challenge {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		resp := map[string]interface{}{
			"access_token": "access-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if f.issueID {
			tok := jwt.NewWithClaims(jwt.SigningMethodRS256, f.idClaims)
			tok.Header["kid"] = "test-key"
			signed, err := tok.SignedString(f.key)
			require.NoError(t, err)
			resp["id_token"] = signed
		}
		writeJSON(w, resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, f.userinfo)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// authorize performs the browser leg: it records the challenge sent to the IdP
func (f *fakeIdP) authorize(t *testing.T, p Provider, state string) {
	t.Helper()
	raw, err := p.AuthCodeURL(context.Background(), state, testVerifier)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotContains(t, raw, testVerifier)
	f.challenge = q.Get("code_challenge")
}

func explicitProvider(f *fakeIdP) *GenericOIDCProvider {
	cfg := config.ProviderConfig{
		Name:        "github",
		ClientID:    "client-1",
		AuthURL:     f.server.URL + "/authorize",
		TokenURL:    f.server.URL + "/token",
		UserinfoURL: f.server.URL + "/userinfo",
		Scopes:      []string{"read:user", "user:email"},
	}
	return NewGenericOIDCProvider(cfg, "http://app.test/api/auth/oauth/github/callback", nil, f.server.Client())
}

func TestExchange_ExplicitEndpointsUsesUserinfo(t *testing.T) {
	f := newFakeIdP(t)
	f.userinfo = map[string]interface{}{
		"id":         float64(4242),
		"email":      "octo@example.com",
		"verified":   true,
		"login":      "octocat",
		"avatar_url": "https://avatars.example.com/4242",
	}
	p := explicitProvider(f)

	f.authorize(t, p, "state-1")
	claims, err := p.Exchange(context.Background(), "good-code", testVerifier)
	require.NoError(t, err)

	assert.Equal(t, "4242", claims.Subject)
	assert.Equal(t, "octo@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, "octocat", claims.Name)
	assert.Equal(t, "https://avatars.example.com/4242", claims.Picture)
}

func TestExchange_WrongVerifierIsRejected(t *testing.T) {
	f := newFakeIdP(t)
	f.userinfo = map[string]interface{}{"id": "1", "email": "a@example.com"}
	p := explicitProvider(f)

	f.authorize(t, p, "state-1")
	_, err := p.Exchange(context.Background(), "good-code", "some-other-verifier-that-is-long-enough-1234")
	assert.True(t, errors.Is(err, ErrExchangeRejected), "got %v", err)
}

func TestExchange_MissingEmailIsRejected(t *testing.T) {
	f := newFakeIdP(t)
	f.userinfo = map[string]interface{}{"id": "1"}
	p := explicitProvider(f)

	f.authorize(t, p, "s")
	_, err := p.Exchange(context.Background(), "good-code", testVerifier)
	assert.ErrorIs(t, err, ErrExchangeRejected)
}

func TestExchange_UnreachableProvider(t *testing.T) {
	f := newFakeIdP(t)
	p := explicitProvider(f)
	f.authorize(t, p, "s")
	f.server.Close()

	_, err := p.Exchange(context.Background(), "good-code", testVerifier)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestExchange_DiscoveryWithIDToken(t *testing.T) {
	f := newFakeIdP(t)
	f.issueID = true
	f.idClaims = jwt.MapClaims{
		"iss":            "", // filled below once the server URL is known
		"aud":            "client-1",
		"sub":            "google-sub-1",
		"email":          "ada@example.com",
		"email_verified": true,
		"name":           "Ada Lovelace",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"iat":            time.Now().Unix(),
	}
	f.idClaims["iss"] = f.server.URL

	cfg := config.ProviderConfig{Name: "google", ClientID: "client-1", Issuer: f.server.URL, Scopes: []string{"openid", "email"}}
	p := NewGenericOIDCProvider(cfg, "http://app.test/cb", NewOIDCDiscoveryCache(time.Hour, f.server.Client()), f.server.Client())

	f.authorize(t, p, "s")
	claims, err := p.Exchange(context.Background(), "good-code", testVerifier)
	require.NoError(t, err)

	assert.Equal(t, "google-sub-1", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, "Ada Lovelace", claims.Name)
	assert.Equal(t, f.server.URL, claims.Issuer)
}

func TestExchange_IDTokenForAnotherAudience(t *testing.T) {
	f := newFakeIdP(t)
	f.issueID = true
	f.idClaims = jwt.MapClaims{
		"iss":   f.server.URL,
		"aud":   "someone-else",
		"sub":   "x",
		"email": "x@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	cfg := config.ProviderConfig{Name: "google", ClientID: "client-1", Issuer: f.server.URL}
	p := NewGenericOIDCProvider(cfg, "http://app.test/cb", NewOIDCDiscoveryCache(time.Hour, f.server.Client()), f.server.Client())

	f.authorize(t, p, "s")
	_, err := p.Exchange(context.Background(), "good-code", testVerifier)
	assert.ErrorIs(t, err, ErrExchangeRejected)
}

func TestRegistryFromConfig(t *testing.T) {
	r, err := NewRegistryFromConfig([]config.ProviderConfig{
		{Name: "github", ClientID: "a", AuthURL: "http://idp/a", TokenURL: "http://idp/t", UserinfoURL: "http://idp/u"},
		{Name: "discord", ClientID: "b", AuthURL: "http://idp/a", TokenURL: "http://idp/t", UserinfoURL: "http://idp/u"},
	}, "https://auth.example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"discord", "github"}, r.List())

	p, err := r.Get("github")
	require.NoError(t, err)
	raw, err := p.AuthCodeURL(context.Background(), "st", testVerifier)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com/api/auth/oauth/github/callback", u.Query().Get("redirect_uri"))

	_, err = r.Get("myspace")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
