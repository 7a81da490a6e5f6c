package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
	"github.com/noah-isme/lumina-attendance-api/pkg/response"
)

// RequireRoles lets only the given roles through. Finer checks, such as
// whether a teacher owns the lecture, stay in the services.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role "+string(claims.Role)+" cannot access this resource"))
			c.Abort()
			return
		}
		c.Next()
	}
}
