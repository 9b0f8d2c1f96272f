package middleware

import (
	"net/http"
	"strings"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/services"

	"github.com/gin-gonic/gin"
)

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

// UserFromContext returns the authenticated user id set by AuthMiddleware.
func UserFromContext(c *gin.Context) (domain.UserID, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	userID, ok := v.(domain.UserID)
	return userID, ok
}
