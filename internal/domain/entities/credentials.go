package entities

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// LocalCredentials holds the password hash of a user that can sign in
// with email and password. OAuth-only users have none.
type LocalCredentials struct {
	UserID       string    `json:"user_id" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"` // never serialize to JSON
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Matches checks if the provided password matches the stored hash
func (c *LocalCredentials) Matches(password string) bool {
	if c == nil || c.PasswordHash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password))
	return err == nil
}
