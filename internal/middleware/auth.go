package middleware

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/unipool-backend/internal/identity"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey   = "userId"
	UserNameKey = "userName"
)

func AuthMiddleware(verifier identity.Verifier, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		// First try to get token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// If not found in header, try query parameter (for WebSocket and SSE)
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authorization header or token query parameter required"})
			return
		}

		principal, err := verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			log.Debug("rejected token", "path", c.FullPath(), "error", err)
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(UserIDKey, principal.UserID)
		c.Set(UserNameKey, principal.Name)
		c.Next()
	}
}
