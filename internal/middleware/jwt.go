package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencampus/course-reg-api/internal/models"
	"github.com/opencampus/course-reg-api/internal/service"
	appErrors "github.com/opencampus/course-reg-api/pkg/errors"
	"github.com/opencampus/course-reg-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// Claims returns the JWT claims attached by the JWT middleware, or nil.
func Claims(c *gin.Context) *models.JWTClaims {
	if v, exists := c.Get(ContextUserKey); exists {
		if claims, ok := v.(*models.JWTClaims); ok {
			return claims
		}
	}
	return nil
}
