// Package middleware provides HTTP middleware for the application.
package middleware

import (
	"strings"

	"xpanel/internal/adminauth"
	"xpanel/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates a Bearer admin-session access token and stores
// the admin's identity in the gin context for downstream handlers.
func AuthMiddleware(auth *adminauth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := auth.ValidateAccessToken(c.Request.Context(), parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set("admin_id", claims.AdminID)
		c.Set("username", claims.Username)
		c.Set("is_sudo", claims.IsSudo)

		c.Next()
	}
}

// GetAdminID retrieves the authenticated admin's ID from context.
func GetAdminID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("admin_id")
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

// GetUsername retrieves the authenticated admin's username from context.
func GetUsername(c *gin.Context) (string, bool) {
	v, exists := c.Get("username")
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIsSudo reports whether the authenticated admin carries sudo rights.
func GetIsSudo(c *gin.Context) bool {
	v, exists := c.Get("is_sudo")
	if !exists {
		return false
	}
	sudo, _ := v.(bool)
	return sudo
}
