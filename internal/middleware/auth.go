package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chachabrian/mooveit-rides/internal/models"
	"github.com/chachabrian/mooveit-rides/pkg/utils"
)

const (
	userIDKey    = "userId"
	userRoleKey  = "userRole"
	principalKey = "principal"
)

// AuthMiddleware validates the HS256 bearer token issued by the identity
// provider and stores the caller's principal on the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
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

		// If not found in header, try query parameter (for WebSocket)
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "Authorization header or token query parameter required", "code": "unauthenticated"})
			return
		}

		principal, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "Invalid token", "code": "unauthenticated"})
			return
		}

		c.Set(userIDKey, principal.UserID)
		c.Set(userRoleKey, string(principal.Role))
		c.Set(principalKey, principal)
		c.Next()
	}
}

// Principal returns the authenticated caller set by AuthMiddleware.
func Principal(c *gin.Context) models.Principal {
	if p, ok := c.Get(principalKey); ok {
		if principal, ok := p.(models.Principal); ok {
			return principal
		}
	}
	return models.Principal{UserID: c.GetUint(userIDKey), Role: models.UserRole(c.GetString(userRoleKey))}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := Principal(c).Role
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(403, gin.H{"error": "This action requires a " + string(roles[0]) + " account", "code": "unauthorized"})
	}
}
