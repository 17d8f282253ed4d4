// Package session carries the refresh token in an encrypted, HttpOnly cookie
// for browser clients.
package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const (
	// SessionName is the name of the session cookie
	SessionName = "gatehouse_session"

	// RefreshTokenKey is the session key holding the raw refresh token
	RefreshTokenKey = "refresh_token"
)

// ErrNoRefreshToken is returned when the cookie is absent, undecodable or empty
var ErrNoRefreshToken = errors.New("no refresh token in session")

// Manager wraps gorilla/sessions for the refresh cookie
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a session manager. secret authenticates the cookie;
// its first 32 bytes also encrypt it (AES-256).
func NewManager(secret []byte, maxAge time.Duration, secure bool) *Manager {
	keyPairs := [][]byte{secret}
	if len(secret) >= 32 {
		keyPairs = append(keyPairs, secret[:32])
	}
	store := sessions.NewCookieStore(keyPairs...)

	store.Options = &sessions.Options{
		Path:     "/api/auth",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)

	return &Manager{store: store}
}

// SetRefreshToken stores the raw refresh token in the session cookie
func (m *Manager) SetRefreshToken(r *http.Request, w http.ResponseWriter, token string) error {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		// Stale or tampered cookie; start over
		session, _ = m.store.New(r, SessionName)
	}

	session.Values[RefreshTokenKey] = token
	return session.Save(r, w)
}

// GetRefreshToken reads the raw refresh token from the session cookie
func (m *Manager) GetRefreshToken(r *http.Request) (string, error) {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return "", ErrNoRefreshToken
	}

	token, ok := session.Values[RefreshTokenKey].(string)
	if !ok || token == "" {
		return "", ErrNoRefreshToken
	}
	return token, nil
}

// Clear expires the session cookie
func (m *Manager) Clear(r *http.Request, w http.ResponseWriter) error {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		session, _ = m.store.New(r, SessionName)
	}

	session.Options.MaxAge = -1
	delete(session.Values, RefreshTokenKey)
	return session.Save(r, w)
}
