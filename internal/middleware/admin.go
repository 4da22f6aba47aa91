package middleware

import (
	"xpanel/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware requires the caller to be a sudo admin. It must run
// after AuthMiddleware, which populates is_sudo from the validated
// token's claims — no extra database round trip is needed here.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetAdminID(c); !ok {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}
		if !GetIsSudo(c) {
			response.Forbidden(c, "sudo access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
