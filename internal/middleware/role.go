package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/response"
)

// RequireRole allows actors holding at least min. It must run after Authenticate.
func RequireRole(guard *access.Guard, min models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := access.ActorFrom(c.Request.Context())
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if err := guard.Authorize(c.Request.Context(), actor, min, c.Request.Method+" "+c.FullPath()); err != nil {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
