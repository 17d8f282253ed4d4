package services

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/auth/oidc"
	"github.com/devilmonastery/gatehouse/internal/domain/repositories"
	"github.com/devilmonastery/gatehouse/internal/email"
	memcache "github.com/devilmonastery/gatehouse/internal/infrastructure/cache/memory"
	memdb "github.com/devilmonastery/gatehouse/internal/infrastructure/database/memory"
)

const testPassword = "correct horse battery"

// fakeSender captures outgoing mail on a channel
type fakeSender struct {
	sent chan email.Message
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) error {
	f.sent <- msg
	return nil
}

// fakeProvider accepts a code only together with the verifier whose
// challenge was put in the authorization URL for the state of the same value
type fakeProvider struct {
	name string

	mu        sync.Mutex
	verifiers map[string]string // state -> verifier
	claims    *oidc.Claims
	err       error
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, verifiers: make(map[string]string)}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(ctx context.Context, state, verifier string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifiers[state] = verifier
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (*oidc.Claims, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.verifiers[code] != verifier {
		return nil, oidc.ErrExchangeRejected
	}
	c := *p.claims
	return &c, nil
}

func (p *fakeProvider) setClaims(c oidc.Claims) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims = &c
}

type testEnv struct {
	svc       *AuthService
	repos     *repositories.Repositories
	ephemeral *memcache.Store
	mailer    *Mailer
	sender    *fakeSender
	provider  *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repos := memdb.New().Repositories()
	hasher, err := NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	renderer, err := email.NewRenderer("Gatehouse")
	require.NoError(t, err)

	sender := &fakeSender{sent: make(chan email.Message, 32)}
	mailer := NewMailer(sender, renderer)
	provider := newFakeProvider("example")
	registry := oidc.NewRegistry()
	registry.Register(provider)
	ephemeral := memcache.NewStore()

	svc := NewAuthService(Dependencies{
		Repositories: repos,
		Ephemeral:    ephemeral,
		JWT:          auth.NewJWTManager("test-signing-key", time.Hour, "gatehouse-test"),
		Hasher:       hasher,
		Mailer:       mailer,
		Providers:    registry,
	}, Config{
		RefreshTokenTTL:  30 * 24 * time.Hour,
		VerificationTTL:  24 * time.Hour,
		PasswordResetTTL: time.Hour,
		UnsubscribeTTL:   365 * 24 * time.Hour,
		PKCEStateTTL:     10 * time.Minute,
		PublicBaseURL:    "https://app.example.com",
	})
	t.Cleanup(mailer.Wait)

	return &testEnv{
		svc:       svc,
		repos:     repos,
		ephemeral: ephemeral,
		mailer:    mailer,
		sender:    sender,
		provider:  provider,
	}
}

func (e *testEnv) register(t *testing.T, addr, name string) *Session {
	t.Helper()
	session, err := e.svc.Register(context.Background(), RegisterInput{
		Email:       addr,
		Password:    testPassword,
		DisplayName: name,
	})
	require.NoError(t, err)
	return session
}

// nextMail waits for the next captured message
func (e *testEnv) nextMail(t *testing.T) email.Message {
	t.Helper()
	select {
	case msg := <-e.sender.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no email sent")
		return email.Message{}
	}
}

// noMail asserts nothing was queued
func (e *testEnv) noMail(t *testing.T) {
	t.Helper()
	e.mailer.Wait()
	select {
	case msg := <-e.sender.sent:
		t.Fatalf("unexpected email %q to %s", msg.Tag, msg.To)
	default:
	}
}

var linkPattern = regexp.MustCompile(`https://app\.example\.com/\S+`)

// tokenFromMail extracts the token query parameter of the first link in msg
func tokenFromMail(t *testing.T, msg email.Message) string {
	t.Helper()
	link := linkPattern.FindString(msg.Text)
	require.NotEmpty(t, link, "no link in %q", msg.Text)
	return tokenFromURL(t, link)
}

func tokenFromURL(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}
