package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devilmonastery/gatehouse/internal/config"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/server/internal/http/middleware"
	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

// RouterConfig wires the router
type RouterConfig struct {
	Handler           *Handler
	Verifier          middleware.TokenVerifier
	Limiter           middleware.Limiter
	RateLimits        config.RateLimitsConfig
	TrustForwardedFor bool
	Readiness         []ReadinessCheck
}

// NewRouter creates the HTTP router with every API route, its rate class and
// its authentication requirement.
func NewRouter(cfg RouterConfig) *mux.Router {
	h := cfg.Handler
	authMW := middleware.NewAuthMiddleware(cfg.Verifier)
	limits := middleware.NewRateLimiter(cfg.Limiter, cfg.TrustForwardedFor)
	rl := cfg.RateLimits

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLogging(cfg.TrustForwardedFor).LogRequest)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.Message(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.Message(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Probes
	router.HandleFunc("/health", Health).Methods(http.MethodGet)
	router.HandleFunc("/readiness", Readiness(cfg.Readiness...)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = router.NotFoundHandler
	api.MethodNotAllowedHandler = router.MethodNotAllowedHandler

	// route applies the rate limit first, so rejected credentials still count
	route := func(path, class string, limit config.RateLimitConfig, handler http.HandlerFunc, mws ...func(http.Handler) http.Handler) *mux.Route {
		var next http.Handler = handler
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return api.Handle(path, limits.Limit(class, limit)(next))
	}
	admin := middleware.RequireRole(entities.RoleAdmin)

	// Sessions
	route("/auth/register", "register", rl.Register, h.Register).Methods(http.MethodPost)
	route("/auth/login", "login", rl.Login, h.Login).Methods(http.MethodPost)
	route("/auth/refresh", "refresh", rl.Refresh, h.Refresh).Methods(http.MethodPost)
	route("/auth/logout", "refresh", rl.Refresh, h.Logout).Methods(http.MethodPost)
	route("/auth/logout-all", "api", rl.API, h.LogoutAll, authMW.RequireAuth).Methods(http.MethodPost)

	// External providers
	route("/auth/providers", "api", rl.API, h.ListProviders).Methods(http.MethodGet)
	route("/auth/oauth/{provider}/start", "oauth", rl.OAuth, h.StartOAuth, authMW.Optional).Methods(http.MethodGet)
	route("/auth/oauth/{provider}/callback", "oauth", rl.OAuth, h.OAuthCallback).Methods(http.MethodGet)

	// Emailed tokens
	route("/auth/verify-email", "email_token", rl.EmailToken, h.VerifyEmail).Methods(http.MethodPost)
	route("/auth/verify-email/resend", "email_token", rl.EmailToken, h.ResendVerification, authMW.RequireAuth).Methods(http.MethodPost)
	route("/auth/password-reset/request", "password_reset", rl.PasswordReset, h.RequestPasswordReset).Methods(http.MethodPost)
	route("/auth/password-reset/confirm", "password_reset", rl.PasswordReset, h.ConfirmPasswordReset).Methods(http.MethodPost)
	route("/email/unsubscribe", "email_token", rl.EmailToken, h.Unsubscribe).Methods(http.MethodGet, http.MethodPost)

	// Account
	route("/auth/password", "api", rl.API, h.ChangePassword, authMW.RequireAuth).Methods(http.MethodPost)
	route("/auth/password", "api", rl.API, h.RemovePassword, authMW.RequireAuth).Methods(http.MethodDelete)
	route("/me", "api", rl.API, h.Me, authMW.RequireAuth).Methods(http.MethodGet)
	route("/me/email-preferences/{type}", "api", rl.API, h.SetEmailPreference, authMW.RequireAuth).Methods(http.MethodPut)

	// Admin
	route("/admin/users/{id}/revoke-sessions", "admin", rl.Admin, h.RevokeSessions, authMW.RequireAuth, admin).Methods(http.MethodPost)

	return router
}
