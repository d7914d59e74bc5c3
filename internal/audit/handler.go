package audit

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/queue"
	"github.com/scouthub/backend/pkg/response"
)

// ArchiveScheduler queues archive exports for the worker.
type ArchiveScheduler interface {
	EnqueueAuditArchive(ctx context.Context, payload queue.AuditArchivePayload) (string, error)
}

// ArchiveRequest is the optional body for POST /audit/archive. Missing bounds
// default to the 24 hours before now.
type ArchiveRequest struct {
	Since *time.Time `json:"since"`
	Until *time.Time `json:"until"`
}

// Handler serves the admin audit endpoints. Routes are mounted behind the admin role gate.
type Handler struct {
	recorder  *Recorder
	scheduler ArchiveScheduler
	logger    *zap.Logger
}

// NewHandler creates an audit handler. scheduler may be nil when no queue is configured.
func NewHandler(recorder *Recorder, scheduler ArchiveScheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{recorder: recorder, scheduler: scheduler, logger: logger}
}

// List handles GET /audit?userId=&category=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	var f Filter
	if v := c.Query("userId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid userId")
			return
		}
		f.UserID = &id
	}
	if v := c.Query("category"); v != "" {
		cat, err := models.ParseCategory(v)
		if err != nil {
			response.FromError(c, err, h.logger)
			return
		}
		f.Category = cat
	}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		response.BadRequest(c, "invalid limit")
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		response.BadRequest(c, "invalid offset")
		return
	}

	entries, err := h.recorder.Query(c.Request.Context(), f)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, entries)
}

// ScheduleArchive handles POST /audit/archive.
func (h *Handler) ScheduleArchive(c *gin.Context) {
	if h.scheduler == nil {
		response.ServiceUnavailable(c, "job queue not configured")
		return
	}
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	until := time.Now().UTC()
	if req.Until != nil {
		until = req.Until.UTC()
	}
	since := until.Add(-24 * time.Hour)
	if req.Since != nil {
		since = req.Since.UTC()
	}
	if !until.After(since) {
		response.BadRequest(c, "until must be after since")
		return
	}

	actor, _ := access.ActorFrom(c.Request.Context())
	jobID, err := h.scheduler.EnqueueAuditArchive(c.Request.Context(), queue.AuditArchivePayload{
		Since:       since,
		Until:       until,
		RequestedBy: actor.AuditID(),
	})
	if err != nil {
		h.logger.Error("enqueue audit archive failed", zap.Error(err))
		response.ServiceUnavailable(c, "job queue unavailable")
		return
	}
	h.recorder.RecordBestEffort(c.Request.Context(), Entry{
		ActorID:   actor.AuditID(),
		Action:    models.ActionScheduledArchive,
		Details:   "window " + since.Format(time.RFC3339) + " to " + until.Format(time.RFC3339) + ", job " + jobID,
		Category:  models.CategorySystem,
		IPAddress: c.ClientIP(),
	})
	response.Accepted(c, gin.H{"jobId": jobID})
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
