package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRoles_SetSemantics(t *testing.T) {
	roles := NewRoles(RoleUser, RoleAdmin, RoleUser)
	assert.Equal(t, Roles{RoleAdmin, RoleUser}, roles)

	withVerified := roles.With(RoleVerified)
	assert.True(t, withVerified.Has(RoleVerified))
	assert.False(t, roles.Has(RoleVerified), "With must not mutate the receiver")

	assert.Equal(t, Roles{RoleUser}, roles.Without(RoleAdmin))
	assert.Equal(t, []string{"admin", "user"}, roles.Strings())
}

func TestRolesFromStrings(t *testing.T) {
	roles := RolesFromStrings([]string{"verified", "user", "verified", ""})
	assert.Equal(t, Roles{RoleUser, RoleVerified}, roles)
}

func TestUser_RolePredicates(t *testing.T) {
	tests := []struct {
		name     string
		roles    Roles
		admin    bool
		verified bool
	}{
		{name: "plain user", roles: NewRoles(RoleUser)},
		{name: "verified user", roles: NewRoles(RoleUser, RoleVerified), verified: true},
		{name: "admin", roles: NewRoles(RoleUser, RoleAdmin), admin: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{Roles: tt.roles}
			assert.Equal(t, tt.admin, u.IsAdmin())
			assert.Equal(t, tt.verified, u.IsVerified())
			assert.True(t, u.HasRole(RoleUser))
		})
	}
}

func TestLocalCredentials_Matches(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	creds := &LocalCredentials{UserID: "1", PasswordHash: string(hash)}
	assert.True(t, creds.Matches("correct horse"))
	assert.False(t, creds.Matches("battery staple"))

	var missing *LocalCredentials
	assert.False(t, missing.Matches("correct horse"))
}

func TestPasswordResetToken_IsValid(t *testing.T) {
	used := time.Now()
	tests := []struct {
		name  string
		token PasswordResetToken
		want  bool
	}{
		{name: "fresh", token: PasswordResetToken{ExpiresAt: time.Now().Add(time.Hour)}, want: true},
		{name: "expired", token: PasswordResetToken{ExpiresAt: time.Now().Add(-time.Second)}},
		{name: "used", token: PasswordResetToken{ExpiresAt: time.Now().Add(time.Hour), UsedAt: &used}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.IsValid())
		})
	}
}
