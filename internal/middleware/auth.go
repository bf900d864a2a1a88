package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"genboard/engine/internal/config"
	"genboard/engine/internal/security"
)

const ownerIDKey = "owner_id"

// Auth verifies the bearer token and scopes the request to its owner.
func Auth(cfg *config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := security.ParseAccessToken(tokenStr, cfg.Security.JWTAccessSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		if claims.OwnerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_claims"})
			return
		}

		c.Set(ownerIDKey, claims.OwnerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner for the current request.
func OwnerID(c *gin.Context) (string, bool) {
	raw, ok := c.Get(ownerIDKey)
	if !ok {
		return "", false
	}
	ownerID, ok := raw.(string)
	return ownerID, ok && ownerID != ""
}
