package services

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Password length bounds. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

const maxDisplayNameLength = 100

// PasswordHasher hashes and checks passwords with bcrypt
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher creates a hasher at the given bcrypt cost. It also
// precomputes a hash that unknown-email logins are compared against.
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("gatehouse-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash dummy password: %w", err)
	}
	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns the bcrypt hash of password
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CompareDummy burns the same time as a real comparison
func (h *PasswordHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

// ValidatePassword checks password length
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return validationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return validationError(fmt.Sprintf("password must be at most %d bytes", MaxPasswordLength))
	}
	return nil
}

// NormalizeEmail trims and lowercases an address and checks that it is a bare
// address (no display name)
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", validationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationError("email is invalid")
	}
	return email, nil
}

// normalizeDisplayName falls back to the local part of the email
func normalizeDisplayName(name, email string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if len([]rune(name)) > maxDisplayNameLength {
		return "", validationError(fmt.Sprintf("display name must be at most %d characters", maxDisplayNameLength))
	}
	return name, nil
}
