// Package handlers implements the JSON API over the auth service.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/domain/services"
	"github.com/devilmonastery/gatehouse/internal/pkg/logger"
	"github.com/devilmonastery/gatehouse/server/internal/http/session"
)

// Handler holds dependencies for all API handlers
type Handler struct {
	svc      *services.AuthService
	sessions *session.Manager // nil when the refresh cookie is disabled
	log      *slog.Logger
}

// New creates a new handler with dependencies
func New(svc *services.AuthService, sessions *session.Manager) *Handler {
	return &Handler{
		svc:      svc,
		sessions: sessions,
		log:      slog.Default().With(slog.String("component", "http_handler")),
	}
}

// tokenResponse is returned by every endpoint that signs a user in
type tokenResponse struct {
	AccessToken      string         `json:"access_token"`
	TokenType        string         `json:"token_type"`
	ExpiresAt        time.Time      `json:"expires_at"`
	RefreshToken     string         `json:"refresh_token"`
	RefreshExpiresAt time.Time      `json:"refresh_expires_at"`
	User             *entities.User `json:"user"`
}

func newTokenResponse(s *services.Session) tokenResponse {
	return tokenResponse{
		AccessToken:      s.AccessToken,
		TokenType:        "Bearer",
		ExpiresAt:        s.AccessExpiresAt,
		RefreshToken:     s.RefreshToken,
		RefreshExpiresAt: s.RefreshExpiresAt,
		User:             s.User,
	}
}

// setRefreshCookie mirrors the refresh token into the session cookie. A
// failure only costs the browser its cookie; the body still carries the token.
func (h *Handler) setRefreshCookie(w http.ResponseWriter, r *http.Request, token string) {
	if h.sessions == nil {
		return
	}
	if err := h.sessions.SetRefreshToken(r, w, token); err != nil {
		logger.FromContext(r.Context()).Warn("failed to set refresh cookie", slog.String("error", err.Error()))
	}
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		return
	}
	if err := h.sessions.Clear(r, w); err != nil {
		logger.FromContext(r.Context()).Warn("failed to clear refresh cookie", slog.String("error", err.Error()))
	}
}

// refreshToken returns the body token, falling back to the cookie
func (h *Handler) refreshToken(r *http.Request, fromBody string) string {
	if fromBody != "" || h.sessions == nil {
		return fromBody
	}
	token, err := h.sessions.GetRefreshToken(r)
	if err != nil {
		return ""
	}
	return token
}

func deviceName(r *http.Request) string {
	return r.UserAgent()
}
