package subscription

import (
	"xpanel/internal/store/models"
	"xpanel/pkg/apperror"
	"xpanel/pkg/jwt"
)

// ResolveAccountNumber validates a subscription token and returns the
// account number it names. A token issued before the user's
// created_at, or before a later sub_revoked_at, is rejected: both
// cases mean the token predates the identity it now claims to carry.
func ResolveAccountNumber(jwtMgr *jwt.Manager, token string, user *models.User) (string, error) {
	claims, err := jwtMgr.ValidateSubscriptionToken(token)
	if err != nil {
		return "", apperror.AuthFailed("invalid subscription token")
	}
	if claims.IssuedAt == nil {
		return "", apperror.AuthFailed("subscription token missing issue time")
	}
	iat := claims.IssuedAt.Time

	if iat.Before(user.CreatedAt) {
		return "", apperror.AuthFailed("subscription token predates account")
	}
	if user.SubRevokedAt != nil && iat.Before(*user.SubRevokedAt) {
		return "", apperror.AuthFailed("subscription token revoked")
	}
	return claims.AccountNumber, nil
}
