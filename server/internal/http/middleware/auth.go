package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/devilmonastery/gatehouse/internal/auth"
	"github.com/devilmonastery/gatehouse/internal/domain/entities"
	"github.com/devilmonastery/gatehouse/internal/pkg/logger"
	"github.com/devilmonastery/gatehouse/server/internal/http/respond"
)

// TokenVerifier validates access tokens
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.UserContext, error)
}

type userHolderKey struct{}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey{}, h)
}

// AuthMiddleware attaches the bearer token's user to the request context
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Optional attaches the user when a valid bearer token is present and lets
// anonymous requests through.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			rejectToken(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireAuth rejects requests without a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse"`)
			respond.Message(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			rejectToken(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireRole rejects authenticated users without role. It must run after
// RequireAuth.
func RequireRole(role entities.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := auth.GetUserFromContext(r.Context())
			if err != nil {
				respond.Message(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !user.HasRole(role) {
				respond.Message(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectToken(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).DebugContext(r.Context(), "access token rejected", slog.String("error", err.Error()))
	w.Header().Set("WWW-Authenticate", `Bearer realm="gatehouse", error="invalid_token"`)
	respond.Message(w, http.StatusUnauthorized, "invalid or expired access token")
}

func withUser(ctx context.Context, user *auth.UserContext) context.Context {
	if h, ok := ctx.Value(userHolderKey{}).(*userHolder); ok {
		h.user = user
	}
	ctx = logger.IntoContext(ctx, logger.WithUser(logger.FromContext(ctx), user.UserID))
	return auth.SetUserInContext(ctx, user)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
