package entities

import "time"

// ExternalLogin links an identity-provider account to a user.
// A (provider, provider_user_id) pair belongs to at most one user; a user
// may have any number of external logins.
type ExternalLogin struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Provider       string    `json:"provider" db:"provider"`                 // "google", "github", ...
	ProviderUserID string    `json:"provider_user_id" db:"provider_user_id"` // provider's 'sub' claim
	Email          string    `json:"email" db:"email"`                       // email reported by the provider at link time
	LinkedAt       time.Time `json:"linked_at" db:"linked_at"`
}

// ProviderKey returns a formatted provider+subject string for logging
func (l *ExternalLogin) ProviderKey() string {
	return l.Provider + ":" + l.ProviderUserID
}
