package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"xpanel/internal/metrics"
)

// Logger logs each request with structured fields and records its
// method/path/status/duration into the Prometheus request histogram.
func Logger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path
		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()

		metrics.ObserveHTTPRequest(method, path, strconv.Itoa(statusCode), latency)

		fields := logrus.Fields{
			"status":     statusCode,
			"method":     method,
			"path":       path,
			"ip":         clientIP,
			"latency_ms": latency.Milliseconds(),
			"user_agent": userAgent,
		}

		if adminID, exists := c.Get("admin_id"); exists {
			fields["admin_id"] = adminID
		}
		if username, exists := c.Get("username"); exists {
			fields["username"] = username
		}

		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			logger.WithFields(fields).Error("server error")
		case statusCode >= 400:
			logger.WithFields(fields).Warn("client error")
		default:
			logger.WithFields(fields).Info("request processed")
		}
	}
}
