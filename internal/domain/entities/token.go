package entities

import "time"

// RefreshToken is the durable half of a login session. Only the hash of the
// secret handed to the client is stored.
type RefreshToken struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	TokenHash  string     `json:"-" db:"token_hash"` // never serialize to JSON
	DeviceName string     `json:"device_name" db:"device_name"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// IsExpired returns true if the token has expired
func (t *RefreshToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// VerificationToken proves control of a user's email address
type VerificationToken struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsExpired returns true if the token has expired
func (t *VerificationToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// PasswordResetToken authorizes a single password change
type PasswordResetToken struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"user_id" db:"user_id"`
	TokenHash string     `json:"-" db:"token_hash"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// IsExpired returns true if the token has expired
func (t *PasswordResetToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// IsUsed returns true once the token has been redeemed
func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid returns true if the token is neither expired nor used
func (t *PasswordResetToken) IsValid() bool {
	return !t.IsExpired() && !t.IsUsed()
}

// UnsubscribeToken backs a one-click unsubscribe link. There is at most one
// per (user, email type); issuing a new one replaces the old.
type UnsubscribeToken struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	EmailType EmailType `json:"email_type" db:"email_type"`
	TokenHash string    `json:"-" db:"token_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsExpired returns true if the token has expired
func (t *UnsubscribeToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}
