package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/config"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	ph := NewPasswordHasher()

	hash, err := ph.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	match, err := ph.VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = ph.VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	ph := NewPasswordHasher()

	_, err := ph.VerifyPassword("anything", "not-a-hash")
	assert.Error(t, err)

	_, err = ph.VerifyPassword("anything", "$argon2id$v=19$bogus$salt$hash")
	assert.Error(t, err)
}

func TestJWTGenerateAndValidate(t *testing.T) {
	h := NewJWTHandler("test-secret-at-least-32-characters-long", time.Hour)

	token, err := h.GenerateAccessToken("alice", "operator")
	require.NoError(t, err)

	claims, err := h.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, "cnc-bridge", claims.Issuer)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	h := NewJWTHandler("test-secret-at-least-32-characters-long", -time.Minute)

	token, err := h.GenerateAccessToken("alice", "operator")
	require.NoError(t, err)

	_, err = h.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	h := NewJWTHandler("test-secret-at-least-32-characters-long", time.Hour)
	other := NewJWTHandler("a-completely-different-signing-secret!!", time.Hour)

	token, err := h.GenerateAccessToken("alice", "operator")
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	assert.Error(t, err)
}

func serviceWithUser(t *testing.T, username, password, role string) *AuthService {
	t.Helper()
	hash, err := NewPasswordHasher().HashPassword(password)
	require.NoError(t, err)

	cfg := config.AuthConfig{
		AccessTokenTTL: time.Hour,
		Users: []config.UserConfig{
			{Username: username, PasswordHash: hash, Role: role},
		},
	}
	return NewAuthService(cfg, zap.NewNop())
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc := serviceWithUser(t, "op", "secret123", "operator")

	token, err := svc.Login("op", "secret123")
	require.NoError(t, err)

	claims, perms, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "op", claims.Username)
	assert.ElementsMatch(t, []Permission{PermViewer, PermOperator}, perms)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := serviceWithUser(t, "op", "secret123", "operator")

	_, err := svc.Login("op", "wrong")
	assert.Error(t, err)

	_, err = svc.Login("nobody", "secret123")
	assert.Error(t, err)
}

func TestRolePermissionHierarchy(t *testing.T) {
	tests := []struct {
		role string
		want []Permission
	}{
		{"admin", []Permission{PermViewer, PermOperator, PermAdmin}},
		{"operator", []Permission{PermViewer, PermOperator}},
		{"viewer", []Permission{PermViewer}},
		{"made-up", nil},
	}

	svc := serviceWithUser(t, "x", "y", "viewer")
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.roleToPermissions(tt.role))
		})
	}
}
