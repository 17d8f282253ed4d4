package entities

import (
	"slices"
	"time"
)

// User represents an identity in the system
type User struct {
	ID          string     `json:"id" db:"id"`
	Email       string     `json:"email" db:"email"` // always stored lowercase
	DisplayName string     `json:"display_name" db:"display_name"`
	Slug        string     `json:"slug" db:"slug"`
	AvatarURL   *string    `json:"avatar_url,omitempty" db:"avatar_url"` // picture from the most recent external login
	Roles       Roles      `json:"roles" db:"roles"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	LastLogin   *time.Time `json:"last_login,omitempty" db:"last_login"`
}

// Role represents a single capability granted to a user
type Role string

const (
	RoleUser     Role = "user"
	RoleVerified Role = "verified"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleVerified, RoleAdmin:
		return true
	}
	return false
}

// Roles is a flat set of roles. It is kept sorted and free of duplicates.
type Roles []Role

// NewRoles builds a normalized role set
func NewRoles(roles ...Role) Roles {
	var set Roles
	for _, r := range roles {
		set = set.With(r)
	}
	return set
}

// RolesFromStrings converts raw role names (from a token or a database row)
// into a normalized role set
func RolesFromStrings(names []string) Roles {
	set := make(Roles, 0, len(names))
	for _, n := range names {
		set = set.With(Role(n))
	}
	return set
}

// Has reports whether the set contains role
func (rs Roles) Has(role Role) bool {
	return slices.Contains(rs, role)
}

// With returns a copy of the set that also contains role
func (rs Roles) With(role Role) Roles {
	if role == "" || rs.Has(role) {
		return rs
	}
	out := append(slices.Clone(rs), role)
	slices.Sort(out)
	return out
}

// Without returns a copy of the set with role removed
func (rs Roles) Without(role Role) Roles {
	out := make(Roles, 0, len(rs))
	for _, r := range rs {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}

// Strings returns the role names
func (rs Roles) Strings() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// HasRole checks if the user has a specific role
func (u *User) HasRole(role Role) bool {
	return u.Roles.Has(role)
}

// IsAdmin returns true if the user is an admin
func (u *User) IsAdmin() bool {
	return u.Roles.Has(RoleAdmin)
}

// IsVerified returns true once the user has confirmed their email address
func (u *User) IsVerified() bool {
	return u.Roles.Has(RoleVerified)
}

// Active returns true if the user is active
func (u *User) Active() bool {
	return u.IsActive
}

// EmailType identifies a category of optional email a user can opt out of
type EmailType string

const (
	EmailTypeProductUpdates  EmailType = "product_updates"
	EmailTypeSecurityNotices EmailType = "security_notices"
)

// Valid reports whether t is a known email type
func (t EmailType) Valid() bool {
	return t == EmailTypeProductUpdates || t == EmailTypeSecurityNotices
}

// EmailPreference records whether a user wants to receive an email type.
// Missing preferences default to enabled.
type EmailPreference struct {
	UserID    string    `json:"user_id" db:"user_id"`
	EmailType EmailType `json:"email_type" db:"email_type"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
