package auth

import (
	"context"
	"errors"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// UserContext contains authenticated user information
type UserContext struct {
	UserID string
	Roles  entities.Roles
}

// NewUserContext builds the request identity from verified claims
func NewUserContext(claims *Claims) *UserContext {
	return &UserContext{
		UserID: claims.UserID(),
		Roles:  claims.RoleSet(),
	}
}

// HasRole checks if the user has a specific role
func (u *UserContext) HasRole(role entities.Role) bool {
	return u.Roles.Has(role)
}

// IsAdmin returns true if the user is an admin
func (u *UserContext) IsAdmin() bool {
	return u.Roles.Has(entities.RoleAdmin)
}

// contextKey is the key for storing user info in context
type contextKey string

const userContextKey contextKey = "user"

// GetUserFromContext extracts the authenticated user from the context
func GetUserFromContext(ctx context.Context) (*UserContext, error) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	if !ok || user == nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// SetUserInContext stores the authenticated user in the context
func SetUserInContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// RequireRole checks that the caller is authenticated and holds role
func RequireRole(ctx context.Context, role entities.Role) (*UserContext, error) {
	user, err := GetUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !user.HasRole(role) {
		return nil, ErrForbidden
	}
	return user, nil
}

// RequireAdmin checks if the user is an admin
func RequireAdmin(ctx context.Context) (*UserContext, error) {
	return RequireRole(ctx, entities.RoleAdmin)
}
