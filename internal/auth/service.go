package auth

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/whttlr/cnc-bridge/internal/config"
)

type Permission string

const (
	PermViewer   Permission = "viewer"
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

// AuthService authenticates config-provisioned operator accounts and issues
// access tokens. There is no user CRUD; accounts live in the config file as
// argon2id hashes.
type AuthService struct {
	users      map[string]config.UserConfig
	jwtHandler *JWTHandler
	hasher     *PasswordHasher
	logger     *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}
	if len(users) == 0 {
		logger.Warn("No operator accounts configured; API login is disabled")
	}

	return &AuthService{
		users:      users,
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		hasher:     NewPasswordHasher(),
		logger:     logger,
	}
}

// Login verifies credentials and returns a signed access token.
func (a *AuthService) Login(username, password string) (string, error) {
	user, ok := a.users[username]
	if !ok {
		// Burn a verification anyway so missing and wrong credentials
		// take comparable time.
		_, _ = a.hasher.VerifyPassword(password, "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
		return "", fmt.Errorf("invalid credentials")
	}

	match, err := a.hasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !match {
		a.logger.Warn("Failed login attempt", zap.String("username", username))
		return "", fmt.Errorf("invalid credentials")
	}

	token, err := a.jwtHandler.GenerateAccessToken(user.Username, user.Role)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	a.logger.Info("User logged in",
		zap.String("username", username),
		zap.String("role", user.Role))
	return token, nil
}

// TokenTTLSeconds reports the configured access token lifetime.
func (a *AuthService) TokenTTLSeconds() int {
	return a.jwtHandler.TTLSeconds()
}

// ValidateToken parses a bearer token and returns the permissions its role
// grants.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, []Permission, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, err
	}
	return claims, a.roleToPermissions(claims.Role), nil
}

// roleToPermissions expands a role into its implied permission set.
func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermViewer, PermOperator, PermAdmin}
	case "operator":
		return []Permission{PermViewer, PermOperator}
	case "viewer":
		return []Permission{PermViewer}
	}
	return nil
}
