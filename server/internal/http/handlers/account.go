package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

type profileResponse struct {
	User             *entities.User              `json:"user"`
	Providers        []string                    `json:"providers"`
	HasPassword      bool                        `json:"has_password"`
	EmailPreferences map[entities.EmailType]bool `json:"email_preferences"`
}

// Me handles GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	profile, err := h.svc.GetProfile(r.Context(), user.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	providers := profile.Providers
	if providers == nil {
		providers = []string{}
	}
	respond.JSON(w, http.StatusOK, profileResponse{
		User:             profile.User,
		Providers:        providers,
		HasPassword:      profile.HasPassword,
		EmailPreferences: profile.EmailPreferences,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /api/auth/password. Every session of the user
// ends, including the caller's.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	if err := h.svc.ChangePassword(r.Context(), user.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respond.Error(w, r, err)
		return
	}
	h.clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// RemovePassword handles DELETE /api/auth/password
func (h *Handler) RemovePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.RemovePassword(r.Context(), user.UserID); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type emailPreferenceRequest struct {
	Enabled bool `json:"enabled"`
}

type emailPreferenceResponse struct {
	EmailType      entities.EmailType `json:"email_type"`
	Enabled        bool               `json:"enabled"`
	UnsubscribeURL string             `json:"unsubscribe_url,omitempty"`
}

// SetEmailPreference handles PUT /api/me/email-preferences/{type}
func (h *Handler) SetEmailPreference(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req emailPreferenceRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	emailType := entities.EmailType(mux.Vars(r)["type"])
	link, err := h.svc.SetEmailPreference(r.Context(), user.UserID, emailType, req.Enabled)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, emailPreferenceResponse{
		EmailType:      emailType,
		Enabled:        req.Enabled,
		UnsubscribeURL: link,
	})
}

// RevokeSessions handles POST /api/admin/users/{id}/revoke-sessions
func (h *Handler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.RevokeSessions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

// currentUser returns the authenticated caller. Routes using it sit behind
// RequireAuth, so a miss is a wiring error reported as 401.
func currentUser(w http.ResponseWriter, r *http.Request) (*auth.UserContext, bool) {
	user, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		respond.Message(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return user, true
}
