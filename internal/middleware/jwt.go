package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/auth"
	"github.com/scouthub/backend/pkg/response"
)

// ContextUserID is the gin context key holding the authenticated account ID.
const ContextUserID = "user_id"

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ActorSource loads the current role and scope of an account.
type ActorSource interface {
	ActorByID(ctx context.Context, id uuid.UUID) (*access.Actor, error)
}

// Authenticate validates the bearer token and resolves the actor from the
// account store. The actor is attached to the request context.
func Authenticate(tokens TokenValidator, actors ActorSource, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		actor, err := actors.ActorByID(c.Request.Context(), claims.UserID)
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindNotFound:
				response.Unauthorized(c, "account no longer exists")
			case apperr.KindAuthorization:
				response.Forbidden(c, apperr.Message(err))
			default:
				logger.Error("resolve actor failed", zap.Error(err), zap.String("user_id", claims.UserID.String()))
				response.Internal(c, "internal server error")
			}
			c.Abort()
			return
		}
		actor.IP = c.ClientIP()
		c.Set(ContextUserID, actor.ID)
		c.Request = c.Request.WithContext(access.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}
