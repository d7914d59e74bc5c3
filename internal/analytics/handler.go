package analytics

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/pkg/response"
)

// Handler handles GET /stats/membership.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Membership returns counts by status within the caller's scope.
func (h *Handler) Membership(c *gin.Context) {
	actor, _ := access.ActorFrom(c.Request.Context())
	out, err := h.svc.Membership(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, out)
}
