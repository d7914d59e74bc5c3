package emaillogs

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/response"
)

// Lister reads delivery logs.
type Lister interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.EmailLog, error)
}

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo   Lister
	logger *zap.Logger
}

// NewHandler creates an email logs handler.
func NewHandler(repo Lister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListByAccount handles GET /users/:id/emails. Mounted behind the admin role gate.
func (h *Handler) ListByAccount(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	logs, err := h.repo.ListByAccount(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("list email logs failed", zap.Error(err), zap.String("account_id", accountID.String()))
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}
