package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims represents the JWT claims of an access token
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token
func (c *Claims) UserID() string {
	return c.Subject
}

// RoleSet returns the roles as a normalized set
func (c *Claims) RoleSet() entities.Roles {
	return entities.RolesFromStrings(c.Roles)
}

// JWTManager handles access token creation and validation.
// Tokens are stateless; there is no revocation list, so their lifetime is
// the exposure window of a leaked token.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	issuer        string
	parser        *jwt.Parser
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string, tokenDuration time.Duration, issuer string) *JWTManager {
	m := &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		issuer:        issuer,
		now:           time.Now,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m
}

// TokenDuration returns the lifetime of issued tokens
func (m *JWTManager) TokenDuration() time.Duration {
	return m.tokenDuration
}

// Issue creates a signed access token for a user and role set
func (m *JWTManager) Issue(userID string, roles entities.Roles) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("cannot issue token without subject")
	}

	now := m.now()
	expiresAt := now.Add(m.tokenDuration)

	claims := Claims{
		Roles: roles.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Verify validates the signature and expiry of a token and returns its
// claims. Any failure yields an error and nil claims.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := m.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
