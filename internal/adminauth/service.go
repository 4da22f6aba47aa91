// Package adminauth handles admin login, token refresh and logout: bcrypt
// password verification, JWT issuance via pkg/jwt, and a Redis-backed
// token blacklist for revocation.
package adminauth

import (
	"context"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"xpanel/internal/store"
	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
	"xpanel/pkg/jwt"
)

// Service authenticates admin accounts and manages their session tokens.
type Service struct {
	store       *store.Store
	jwtManager  *jwt.Manager
	redisClient *redis.Client
	// sudoAdmins are usernames (lowercase) declared sudo via environment;
	// they override a stored admin's is_sudo flag at auth time.
	sudoAdmins []string
}

// New builds an admin-auth service. sudoAdmins lists env-declared
// super-admin usernames (lowercase) that override is_sudo at auth time.
func New(st *store.Store, jwtManager *jwt.Manager, redisClient *redis.Client, sudoAdmins []string) *Service {
	return &Service{store: st, jwtManager: jwtManager, redisClient: redisClient, sudoAdmins: sudoAdmins}
}

func (s *Service) effectiveIsSudo(admin *models.Admin) bool {
	if admin.IsSudo {
		return true
	}
	for _, u := range s.sudoAdmins {
		if u == admin.Username {
			return true
		}
	}
	return false
}

// TokenPair is an access/refresh token issued on login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login verifies username/password and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, *models.Admin, error) {
	admin, err := s.store.GetAdminByUsername(ctx, username)
	if err != nil {
		return nil, nil, apperror.AuthFailed("invalid username or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperror.AuthFailed("invalid username or password")
	}

	tokens, err := s.generateTokenPair(admin)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	return tokens, admin, nil
}

// RefreshToken validates a refresh token, blacklists it, and issues a new
// pair. The admin's password_reset_at is checked so a changed password
// invalidates refresh tokens issued before the change.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, apperror.AuthFailed("invalid or expired token")
	}
	if claims.TokenType != jwt.RefreshToken {
		return nil, apperror.AuthFailed("not a refresh token")
	}
	if s.isBlacklisted(ctx, refreshToken) {
		return nil, apperror.AuthFailed("token has been revoked")
	}

	admin, err := s.store.GetAdminByUsername(ctx, claims.Username)
	if err != nil {
		return nil, apperror.AuthFailed("admin no longer exists")
	}
	if admin.ID != claims.AdminID {
		return nil, apperror.AuthFailed("invalid token")
	}
	if issuedBeforeReset(claims.IssuedAt, admin.PasswordResetAt) {
		return nil, apperror.AuthFailed("token has been revoked")
	}

	_ = s.blacklist(ctx, refreshToken, s.jwtManager.GetRefreshTokenTTL())
	return s.generateTokenPair(admin)
}

// Logout blacklists both tokens for the remainder of their natural TTL.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken != "" {
		_ = s.blacklist(ctx, accessToken, s.jwtManager.GetAccessTokenTTL())
	}
	if refreshToken != "" {
		_ = s.blacklist(ctx, refreshToken, s.jwtManager.GetRefreshTokenTTL())
	}
	return nil
}

// ValidateAccessToken validates an access token against signature,
// expiry, token type, the blacklist, and the admin's password-reset
// watermark.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, apperror.AuthFailed("invalid or expired token")
	}
	if claims.TokenType != jwt.AccessToken {
		return nil, apperror.AuthFailed("not an access token")
	}
	if s.isBlacklisted(ctx, token) {
		return nil, apperror.AuthFailed("token has been revoked")
	}

	admin, err := s.store.GetAdminByUsername(ctx, claims.Username)
	if err != nil || admin.ID != claims.AdminID {
		return nil, apperror.AuthFailed("admin no longer exists")
	}
	if issuedBeforeReset(claims.IssuedAt, admin.PasswordResetAt) {
		return nil, apperror.AuthFailed("token has been revoked")
	}
	return claims, nil
}

func (s *Service) generateTokenPair(admin *models.Admin) (*TokenPair, error) {
	isSudo := s.effectiveIsSudo(admin)
	accessToken, err := s.jwtManager.GenerateAccessToken(admin.ID, admin.Username, isSudo)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(admin.ID, admin.Username, isSudo)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetAccessTokenTTL().Seconds()),
	}, nil
}

func (s *Service) isBlacklisted(ctx context.Context, token string) bool {
	result, err := s.redisClient.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false // fail open on Redis outage
	}
	return result > 0
}

func (s *Service) blacklist(ctx context.Context, token string, ttl time.Duration) error {
	return s.redisClient.Set(ctx, "blacklist:"+token, "1", ttl).Err()
}

func issuedBeforeReset(iat *jwtlib.NumericDate, resetAt *time.Time) bool {
	if iat == nil || resetAt == nil {
		return false
	}
	return iat.Time.Before(*resetAt)
}
