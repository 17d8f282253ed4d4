package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/gatehouse/internal/domain/entities"
)

const testSecret = "test-secret-key-that-is-long-enough"

func TestJWTManager_IssueAndVerify(t *testing.T) {
	m := NewJWTManager(testSecret, time.Hour, "gatehouse")

	token, expiresAt, err := m.Issue("123", entities.NewRoles(entities.RoleUser, entities.RoleVerified))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "123", claims.UserID())
	assert.True(t, claims.RoleSet().Has(entities.RoleVerified))
	assert.False(t, claims.RoleSet().Has(entities.RoleAdmin))
	assert.Equal(t, "gatehouse", claims.Issuer)
	require.NotNil(t, claims.IssuedAt)
	assert.Equal(t, time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestJWTManager_VerifyRejects(t *testing.T) {
	m := NewJWTManager(testSecret, time.Hour, "gatehouse")
	valid, _, err := m.Issue("123", entities.NewRoles(entities.RoleUser))
	require.NoError(t, err)

	otherSecret, _, err := NewJWTManager("a-completely-different-secret-key!", time.Hour, "gatehouse").
		Issue("123", entities.NewRoles(entities.RoleAdmin))
	require.NoError(t, err)

	expiredManager := NewJWTManager(testSecret, time.Hour, "gatehouse")
	expiredManager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredManager.Issue("123", entities.NewRoles(entities.RoleUser))
	require.NoError(t, err)

	otherIssuer, _, err := NewJWTManager(testSecret, time.Hour, "someone-else").Issue("123", nil)
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Roles: []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "123", Issuer: "gatehouse"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "different secret", token: otherSecret, wantErr: ErrInvalidToken},
		{name: "expired", token: expired, wantErr: ErrExpiredToken},
		{name: "wrong issuer", token: otherIssuer, wantErr: ErrInvalidToken},
		{name: "alg none", token: noneToken, wantErr: ErrInvalidToken},
		{name: "missing exp", token: noExpiry, wantErr: ErrInvalidToken},
		{name: "tampered payload", token: tampered, wantErr: ErrInvalidToken},
		{name: "malformed", token: "not.a.jwt", wantErr: ErrInvalidToken},
		{name: "empty", token: "", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.Verify(tt.token)
			assert.Nil(t, claims, "no partial claims on failure")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
