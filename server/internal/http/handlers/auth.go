package handlers

import (
	"net/http"

	"github.com/devilmonastery/gatehouse/internal/domain/services"
	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register handles POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	sess, err := h.svc.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		DeviceName:  deviceName(r),
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	h.setRefreshCookie(w, r, sess.RefreshToken)
	respond.JSON(w, http.StatusCreated, newTokenResponse(sess))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password, deviceName(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	h.setRefreshCookie(w, r, sess.RefreshToken)
	respond.JSON(w, http.StatusOK, newTokenResponse(sess))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/auth/refresh. The token comes from the body or,
// when absent, the session cookie.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !respond.DecodeOptional(w, r, &req) {
		return
	}

	sess, err := h.svc.Refresh(r.Context(), h.refreshToken(r, req.RefreshToken), deviceName(r))
	if err != nil {
		if respond.StatusFor(err) == http.StatusUnauthorized {
			h.clearRefreshCookie(w, r)
		}
		respond.Error(w, r, err)
		return
	}

	h.setRefreshCookie(w, r, sess.RefreshToken)
	respond.JSON(w, http.StatusOK, newTokenResponse(sess))
}

// Logout handles POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !respond.DecodeOptional(w, r, &req) {
		return
	}

	err := h.svc.Logout(r.Context(), h.refreshToken(r, req.RefreshToken))
	h.clearRefreshCookie(w, r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

// LogoutAll handles POST /api/auth/logout-all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	n, err := h.svc.LogoutAll(r.Context(), user.UserID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	h.clearRefreshCookie(w, r)
	respond.JSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmail handles POST /api/auth/verify-email
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	user, err := h.svc.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"user": user})
}

// ResendVerification handles POST /api/auth/verify-email/resend
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.ResendVerification(r.Context(), user.UserID); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type resetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset handles POST /api/auth/password-reset/request. The
// response is identical whether or not the address belongs to an account.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]string{
		"message": "if an account exists for that address, a reset link has been sent",
	})
}

type resetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ConfirmPasswordReset handles POST /api/auth/password-reset/confirm
func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !respond.Decode(w, r, &req) {
		return
	}

	if err := h.svc.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		respond.Error(w, r, err)
		return
	}
	h.clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

type unsubscribeResponse struct {
	EmailType    string `json:"email_type"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// Unsubscribe handles /api/email/unsubscribe. GET only reports what the token
// would turn off, so link prefetchers change nothing. POST takes the token
// from a JSON body, or from the query and form for one-click
// (List-Unsubscribe=One-Click) posts.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		emailType, err := h.svc.CheckUnsubscribe(r.Context(), r.URL.Query().Get("token"))
		if err != nil {
			respond.Error(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, unsubscribeResponse{EmailType: string(emailType)})
		return
	}

	var token string
	switch {
	case respond.IsForm(r):
		if !respond.ParseForm(w, r) {
			return
		}
		token = r.FormValue("token")
	case r.ContentLength == 0 && r.URL.Query().Get("token") != "":
		token = r.URL.Query().Get("token")
	default:
		var req tokenRequest
		if !respond.Decode(w, r, &req) {
			return
		}
		token = req.Token
	}

	emailType, err := h.svc.Unsubscribe(r.Context(), token)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, unsubscribeResponse{EmailType: string(emailType), Unsubscribed: true})
}
