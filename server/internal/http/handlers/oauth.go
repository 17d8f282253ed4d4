package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/pkg/logger"
	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

type oauthStartResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// ListProviders handles GET /api/auth/providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string][]string{"providers": h.svc.Providers()})
}

// StartOAuth handles GET /api/auth/oauth/{provider}/start. Browsers are
// redirected to the provider; clients asking for JSON get the URL instead.
// An authenticated caller links the provider account to itself.
func (h *Handler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	var linkUserID string
	if user, err := auth.GetUserFromContext(r.Context()); err == nil {
		linkUserID = user.UserID
	}

	start, err := h.svc.StartOAuth(r.Context(), provider, linkUserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	if wantsJSON(r) {
		respond.JSON(w, http.StatusOK, oauthStartResponse{URL: start.URL, State: start.State})
		return
	}
	http.Redirect(w, r, start.URL, http.StatusFound)
}

// OAuthCallback handles GET /api/auth/oauth/{provider}/callback
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		logger.FromContext(r.Context()).Info("provider denied authorization",
			slog.String("provider", provider),
			slog.String("reason", providerErr))
		respond.Message(w, http.StatusUnauthorized, "authorization was denied")
		return
	}

	sess, err := h.svc.CompleteOAuth(r.Context(), provider, q.Get("state"), q.Get("code"), deviceName(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	h.setRefreshCookie(w, r, sess.RefreshToken)
	respond.JSON(w, http.StatusOK, newTokenResponse(sess))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
