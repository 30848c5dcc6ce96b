package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// userKeyContextKey is where RequireUserKey stores the validated key.
const userKeyContextKey = "user_key"

// minUserKeyLength rejects trivially guessable keys.
const minUserKeyLength = 10

// RequireUserKey validates the X-User-Key header on every /v1 route.
func RequireUserKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-User-Key")
		if len(key) < minUserKeyLength {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "X-User-Key header is required (min 10 characters)",
			})
			return
		}
		c.Set(userKeyContextKey, key)
		c.Next()
	}
}

// userKey returns the key RequireUserKey validated.
func userKey(c *gin.Context) string {
	return c.GetString(userKeyContextKey)
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("Request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
