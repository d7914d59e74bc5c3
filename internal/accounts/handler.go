package accounts

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/pkg/response"
)

// Handler serves the admin account review endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an accounts handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// ListPending handles GET /users/pending.
func (h *Handler) ListPending(c *gin.Context) {
	actor, _ := access.ActorFrom(c.Request.Context())
	list, err := h.svc.ListPending(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, list)
}

// Approve handles POST /users/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	acc, err := h.svc.Approve(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, acc)
}

// Reject handles DELETE /users/:id. The body is the bare {success:true} envelope.
func (h *Handler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	if err := h.svc.Reject(c.Request.Context(), actor, id); err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, nil)
}
