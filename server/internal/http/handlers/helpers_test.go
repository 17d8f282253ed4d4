package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/auth/oidc"
	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/services"
	"github.com/devilmonastery/gatehouse/internal/email"
	memcache "github.com/devilmonastery/gatehouse/internal/infrastructure/cache/memory"
	memdb "github.com/devilmonastery/gatehouse/internal/infrastructure/database/memory"
	"github.com/devilmonastery/gatehouse/internal/ratelimit"
	"github.com/devilmonastery/gatehouse/server/internal/http/session"
)

const testPassword = "correct horse battery"

var generous = config.RateLimitConfig{HourlyLimit: 1000, BurstLimit: 1000, BurstWindow: time.Minute}

type fakeSender struct {
	sent chan email.Message
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) error {
	f.sent <- msg
	return nil
}

// fakeProvider treats the state as the authorization code and accepts it only
// with the verifier it saw at AuthCodeURL
type fakeProvider struct {
	mu        sync.Mutex
	verifiers map[string]string
	claims    oidc.Claims
}

func (p *fakeProvider) Name() string { return "example" }

func (p *fakeProvider) AuthCodeURL(ctx context.Context, state, verifier string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifiers[state] = verifier
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (*oidc.Claims, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifiers[code] != verifier {
		return nil, oidc.ErrExchangeRejected
	}
	c := p.claims
	return &c, nil
}

type testServer struct {
	router   *mux.Router
	svc      *services.AuthService
	sender   *fakeSender
	provider *fakeProvider
	ready    error
}

type serverOption func(*RouterConfig, *[]byte)

func withRateLimits(rl config.RateLimitsConfig) serverOption {
	return func(c *RouterConfig, _ *[]byte) { c.RateLimits = rl }
}

func withCookie() serverOption {
	return func(_ *RouterConfig, secret *[]byte) {
		*secret = []byte("0123456789abcdef0123456789abcdef-cookie")
	}
}

func allLimits(l config.RateLimitConfig) config.RateLimitsConfig {
	return config.RateLimitsConfig{
		Register: l, Login: l, Refresh: l, PasswordReset: l,
		EmailToken: l, OAuth: l, API: l, Admin: l,
	}
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	hasher, err := services.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	renderer, err := email.NewRenderer("Gatehouse")
	require.NoError(t, err)
	sender := &fakeSender{sent: make(chan email.Message, 32)}
	mailer := services.NewMailer(sender, renderer)
	t.Cleanup(mailer.Wait)

	provider := &fakeProvider{verifiers: make(map[string]string)}
	registry := oidc.NewRegistry()
	registry.Register(provider)
	ephemeral := memcache.NewStore()

	svc := services.NewAuthService(services.Dependencies{
		Repositories: memdb.New().Repositories(),
		Ephemeral:    ephemeral,
		JWT:          auth.NewJWTManager("test-signing-key", time.Hour, "gatehouse-test"),
		Hasher:       hasher,
		Mailer:       mailer,
		Providers:    registry,
	}, services.Config{
		RefreshTokenTTL:  30 * 24 * time.Hour,
		VerificationTTL:  24 * time.Hour,
		PasswordResetTTL: time.Hour,
		UnsubscribeTTL:   365 * 24 * time.Hour,
		PKCEStateTTL:     10 * time.Minute,
		PublicBaseURL:    "https://app.example.com",
	})

	ts := &testServer{svc: svc, sender: sender, provider: provider}
	cfg := RouterConfig{
		Verifier:   svc,
		Limiter:    ratelimit.New(ephemeral),
		RateLimits: allLimits(generous),
		Readiness: []ReadinessCheck{{
			Name:  "database",
			Check: func(ctx context.Context) error { return ts.ready },
		}},
	}
	var cookieSecret []byte
	for _, opt := range opts {
		opt(&cfg, &cookieSecret)
	}

	var sessions *session.Manager
	if cookieSecret != nil {
		sessions = session.NewManager(cookieSecret, 30*24*time.Hour, false)
	}
	cfg.Handler = New(svc, sessions)
	ts.router = NewRouter(cfg)
	return ts
}

type request struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
	header  map[string]string
	form    url.Values
}

func (ts *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if req.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(req.body))
	}
	if req.form != nil {
		body.WriteString(req.form.Encode())
	}
	r := httptest.NewRequest(req.method, req.path, &body)
	r.RemoteAddr = "192.0.2.1:4000"
	r.Header.Set("User-Agent", "handler-test")
	switch {
	case req.form != nil:
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	case req.body != nil:
		r.Header.Set("Content-Type", "application/json")
	}
	if req.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+req.bearer)
	}
	for k, v := range req.header {
		r.Header.Set(k, v)
	}
	for _, c := range req.cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func (ts *testServer) register(t *testing.T, addr string) tokenResponse {
	t.Helper()
	w := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/auth/register",
		body:   map[string]string{"email": addr, "password": testPassword, "display_name": "Test User"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[tokenResponse](t, w)
}

func (ts *testServer) nextMail(t *testing.T) email.Message {
	t.Helper()
	select {
	case msg := <-ts.sender.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
		return email.Message{}
	}
}

var linkPattern = regexp.MustCompile(`https://app\.example\.com/\S+`)

func tokenFromMail(t *testing.T, msg email.Message) string {
	t.Helper()
	link := linkPattern.FindString(msg.Text)
	require.NotEmpty(t, link, "no link in %q", msg.Text)
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

var errNotReady = errors.New("connection refused")
