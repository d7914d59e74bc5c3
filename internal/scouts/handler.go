package scouts

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/response"
)

// RegisterRequest is the body for POST /scouts/register.
type RegisterRequest struct {
	Name         string     `json:"name" binding:"required"`
	Email        string     `json:"email" binding:"omitempty,email"`
	SchoolID     *uuid.UUID `json:"schoolId"`
	UnitID       *uuid.UUID `json:"unitId"`
	Address      string     `json:"address"`
	ContactNo    string     `json:"contactNo"`
	GuardianName string     `json:"guardianName"`
}

// UpdateRequest is the body for PUT /scouts/:id. Omitted fields are unchanged.
type UpdateRequest struct {
	Name            *string    `json:"name"`
	Email           *string    `json:"email"`
	SchoolID        *uuid.UUID `json:"schoolId"`
	UnitID          *uuid.UUID `json:"unitId"`
	Address         *string    `json:"address"`
	ContactNo       *string    `json:"contactNo"`
	GuardianName    *string    `json:"guardianName"`
	Status          *string    `json:"status"`
	MembershipYears *int       `json:"membershipYears" binding:"omitempty,min=0"`
}

// Handler handles scout HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a scouts handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register handles POST /scouts/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	rec, err := h.svc.Register(c.Request.Context(), RegisterInput{
		Name:         req.Name,
		Email:        req.Email,
		SchoolID:     req.SchoolID,
		UnitID:       req.UnitID,
		Address:      req.Address,
		ContactNo:    req.ContactNo,
		GuardianName: req.GuardianName,
		IPAddress:    c.ClientIP(),
	})
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.Created(c, rec)
}

// Lookup handles GET /scouts/lookup/:uid.
func (h *Handler) Lookup(c *gin.Context) {
	res, err := h.svc.LookupByUID(c.Request.Context(), c.Param("uid"))
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, res)
}

// List handles GET /scouts?status=&limit=&offset=.
func (h *Handler) List(c *gin.Context) {
	actor, _ := access.ActorFrom(c.Request.Context())
	var q ListQuery
	if v := c.Query("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			response.FromError(c, err, h.logger)
			return
		}
		q.Status = st
	}
	var err error
	if q.Limit, err = intQuery(c, "limit"); err != nil {
		response.BadRequest(c, "invalid limit")
		return
	}
	if q.Offset, err = intQuery(c, "offset"); err != nil {
		response.BadRequest(c, "invalid offset")
		return
	}
	list, err := h.svc.List(c.Request.Context(), actor, q)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, list)
}

// Get handles GET /scouts/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	rec, err := h.svc.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, rec)
}

// Update handles PUT /scouts/:id.
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := UpdateInput{
		Name:            req.Name,
		Email:           req.Email,
		SchoolID:        req.SchoolID,
		UnitID:          req.UnitID,
		Address:         req.Address,
		ContactNo:       req.ContactNo,
		GuardianName:    req.GuardianName,
		MembershipYears: req.MembershipYears,
	}
	if req.Status != nil {
		st, err := models.ParseStatus(*req.Status)
		if err != nil {
			response.FromError(c, err, h.logger)
			return
		}
		in.Status = &st
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	rec, err := h.svc.Update(c.Request.Context(), actor, id, in)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, rec)
}

// Renew handles POST /scouts/:id/renew.
func (h *Handler) Renew(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	rec, err := h.svc.Renew(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, rec)
}

// Expire handles POST /scouts/:id/expire.
func (h *Handler) Expire(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	rec, err := h.svc.Expire(c.Request.Context(), actor, id)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, rec)
}

// Delete handles DELETE /scouts/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, _ := access.ActorFrom(c.Request.Context())
	if err := h.svc.Delete(c.Request.Context(), actor, id); err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, nil)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid scout id")
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
