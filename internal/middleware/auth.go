package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/internal/auth"
	"storefront/internal/models"
)

const (
	ContextUserID = "userId"
	ContextRole   = "role"
)

// AuthGuard validates the bearer access token and injects the caller's
// userId and role. When allowedRoles is non-empty the role must be one of
// them.
func AuthGuard(secret string, allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if raw == "" {
			log.Printf("[AUTH] [ERROR] missing token (%s)", RequestIDFrom(c))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing token"})
			return
		}

		parts := strings.Split(raw, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			log.Printf("[AUTH] [ERROR] invalid token format (%s)", RequestIDFrom(c))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}

		claims, err := auth.ParseAccessToken(secret, parts[1])
		if err != nil {
			log.Printf("[AUTH] [ERROR] token validation failed (%s): %v", RequestIDFrom(c), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
			return
		}

		if len(allowedRoles) > 0 {
			match := false
			for _, r := range allowedRoles {
				if claims.Role == r {
					match = true
					break
				}
			}
			if !match {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "forbidden"})
				return
			}
		}

		userID, _ := claims.ObjectID()
		c.Set(ContextUserID, userID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// UserAuth admits any signed-in account.
func UserAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret)
}

// OwnerAuth admits only accounts with the owner capability.
func OwnerAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret, models.RoleOwner)
}
