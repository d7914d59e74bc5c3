// Package server assembles the HTTP routes.
package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/accounts"
	"github.com/scouthub/backend/internal/analytics"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/auth"
	"github.com/scouthub/backend/internal/emaillogs"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/middleware"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/internal/realtime"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/pkg/response"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Guard       *access.Guard
	Tokens      middleware.TokenValidator
	Actors      middleware.ActorSource
	Auth        *auth.Handler
	Accounts    *accounts.Handler
	Scouts      *scouts.Handler
	Audit       *audit.Handler
	Stats       *analytics.Handler // optional
	EmailLogs   *emaillogs.Handler // optional
	Feed        *realtime.Hub      // optional
	CORSOrigins string
}

// NewRouter builds the gin engine with every route.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(d.CORSOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics(d.Metrics))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// Public
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", d.Auth.Register)
		authGroup.POST("/login", d.Auth.Login)
	}
	router.POST("/scouts/register", d.Scouts.Register)
	router.GET("/scouts/lookup/:uid", d.Scouts.Lookup)

	// Live audit feed (token in query or header; admin only)
	if d.Feed != nil {
		router.GET("/audit/stream", realtime.ServeAuditFeed(d.Feed, func(ctx context.Context, token string) (*access.Actor, error) {
			claims, err := d.Tokens.Validate(token)
			if err != nil {
				return nil, err
			}
			return d.Actors.ActorByID(ctx, claims.UserID)
		}, d.Guard, logger))
	}

	// Protected API (JWT + server-side actor)
	api := router.Group("")
	api.Use(middleware.Authenticate(d.Tokens, d.Actors, logger))
	{
		api.GET("/me", d.Auth.Me)

		admin := middleware.RequireRole(d.Guard, models.RoleAdmin)
		staff := middleware.RequireRole(d.Guard, models.RoleStaff)
		leader := middleware.RequireRole(d.Guard, models.RoleUnitLeader)

		api.GET("/users/pending", admin, d.Accounts.ListPending)
		api.POST("/users/:id/approve", admin, d.Accounts.Approve)
		api.DELETE("/users/:id", admin, d.Accounts.Reject)
		if d.EmailLogs != nil {
			api.GET("/users/:id/emails", admin, d.EmailLogs.ListByAccount)
		}

		api.GET("/scouts", leader, d.Scouts.List)
		api.GET("/scouts/:id", leader, d.Scouts.Get)
		api.PUT("/scouts/:id", staff, d.Scouts.Update)
		api.POST("/scouts/:id/renew", staff, d.Scouts.Renew)
		api.POST("/scouts/:id/expire", staff, d.Scouts.Expire)
		api.DELETE("/scouts/:id", admin, d.Scouts.Delete)
		if d.Stats != nil {
			api.GET("/stats/membership", leader, d.Stats.Membership)
		}

		api.GET("/audit", admin, d.Audit.List)
		api.POST("/audit/archive", admin, d.Audit.ScheduleArchive)
	}
	return router
}
