package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/accounts"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string     `json:"email" binding:"required,email"`
	Username string     `json:"username" binding:"required"`
	Password string     `json:"password" binding:"required,min=8"`
	Role     string     `json:"role"` // optional, defaults to user
	SchoolID *uuid.UUID `json:"schoolId"`
	UnitID   *uuid.UUID `json:"unitId"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string          `json:"token"`
	User  *models.Account `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	accounts *accounts.Service
	jwt      *JWTService
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(svc *accounts.Service, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{accounts: svc, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register. The account starts unapproved, so no token is issued.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	acc, err := h.accounts.Register(c.Request.Context(), accounts.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		Role:      req.Role,
		SchoolID:  req.SchoolID,
		UnitID:    req.UnitID,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.Created(c, acc)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	acc, err := h.accounts.Authenticate(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			response.Unauthorized(c, "invalid email or password")
			return
		}
		response.FromError(c, err, h.logger)
		return
	}

	token, err := h.jwt.Generate(acc.ID, acc.Email, string(acc.Role))
	if err != nil {
		h.logger.Error("generate token failed", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: acc})
}

// Me handles GET /me.
func (h *Handler) Me(c *gin.Context) {
	actor, _ := access.ActorFrom(c.Request.Context())
	acc, err := h.accounts.Me(c.Request.Context(), actor)
	if err != nil {
		response.FromError(c, err, h.logger)
		return
	}
	response.OK(c, acc)
}
