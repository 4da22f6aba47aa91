// Package jwt provides JWT token creation and validation utilities.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType distinguishes between access and refresh tokens.
type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

// Claims represents the admin-session JWT claims structure.
type Claims struct {
	AdminID   uint      `json:"admin_id"`
	Username  string    `json:"username"`
	IsSudo    bool      `json:"is_sudo"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// SubscriptionClaims identifies the user a subscription link belongs
// to. IssuedAt is checked against the user's created_at and
// sub_revoked_at columns at validation time, rather than against an
// expiry, since subscription links are meant to be long-lived.
type SubscriptionClaims struct {
	AccountNumber string `json:"sub"`
	jwt.RegisteredClaims
}

// Manager handles JWT token operations.
type Manager struct {
	secretKey       []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

// NewManager creates a new JWT manager with the given configuration.
func NewManager(secretKey string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secretKey:       []byte(secretKey),
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
	}
}

// GenerateAccessToken creates a new access token for the given admin.
func (m *Manager) GenerateAccessToken(adminID uint, username string, isSudo bool) (string, error) {
	return m.generateToken(adminID, username, isSudo, AccessToken, m.accessTokenTTL)
}

// GenerateRefreshToken creates a new refresh token for the given admin.
func (m *Manager) GenerateRefreshToken(adminID uint, username string, isSudo bool) (string, error) {
	return m.generateToken(adminID, username, isSudo, RefreshToken, m.refreshTokenTTL)
}

func (m *Manager) generateToken(adminID uint, username string, isSudo bool, tokenType TokenType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AdminID:   adminID,
		Username:  username,
		IsSudo:    isSudo,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateToken parses and validates an admin-session token.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GenerateSubscriptionToken signs a non-expiring token identifying a
// user by account number, stamped with the current issue time.
func (m *Manager) GenerateSubscriptionToken(accountNumber string) (string, error) {
	claims := &SubscriptionClaims{
		AccountNumber: accountNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateSubscriptionToken parses a subscription token without
// checking expiry (it never carries one); the caller is responsible
// for comparing IssuedAt against the user's created_at/sub_revoked_at.
func (m *Manager) ValidateSubscriptionToken(tokenString string) (*SubscriptionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SubscriptionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SubscriptionClaims)
	if !ok {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// GetAccessTokenTTL returns the access token time-to-live duration.
func (m *Manager) GetAccessTokenTTL() time.Duration {
	return m.accessTokenTTL
}

// GetRefreshTokenTTL returns the refresh token time-to-live duration.
func (m *Manager) GetRefreshTokenTTL() time.Duration {
	return m.refreshTokenTTL
}
