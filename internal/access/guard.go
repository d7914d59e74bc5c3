// Package access decides whether an actor may perform an action and which
// scout records the actor may see.
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
)

// DenialRecorder writes a best-effort audit entry for a refused action.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, actorID *uuid.UUID, details string)
}

// Guard authorizes actions against the role hierarchy.
type Guard struct {
	logger  *zap.Logger
	denials DenialRecorder
	metrics *metrics.Metrics
}

type Option func(*Guard)

// WithDenialAudit records every denial in the audit trail.
func WithDenialAudit(r DenialRecorder) Option { return func(g *Guard) { g.denials = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(g *Guard) { g.metrics = m } }

// NewGuard creates a Guard.
func NewGuard(logger *zap.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns nil when actor holds at least the required role and an
// authorization error otherwise. It never changes state beyond the optional
// denial entry.
func (g *Guard) Authorize(ctx context.Context, actor *Actor, required models.Role, op string) error {
	if actor == nil {
		g.deny(ctx, nil, required, op, "no authenticated actor")
		return apperr.Unauthorized(op, "authentication required")
	}
	if models.HasAtLeast(actor.Role, required) {
		return nil
	}
	g.deny(ctx, actor, required, op, fmt.Sprintf("role %s below %s", actor.Role, required))
	return apperr.Unauthorized(op, fmt.Sprintf("requires %s role", required))
}

func (g *Guard) deny(ctx context.Context, actor *Actor, required models.Role, op, reason string) {
	g.metrics.AccessDenied(string(required))
	fields := []zap.Field{zap.String("op", op), zap.String("required_role", string(required)), zap.String("reason", reason)}
	if actor != nil {
		fields = append(fields, zap.String("actor_id", actor.ID.String()))
	}
	g.logger.Warn("access denied", fields...)
	if g.denials != nil {
		g.denials.RecordDenial(ctx, actor.AuditID(), op+": "+reason)
	}
}

// Scope is the set of scout records an actor may read or change.
type Scope struct {
	All      bool
	SchoolID *uuid.UUID
	UnitID   *uuid.UUID
}

// None reports whether the scope matches no record.
func (s Scope) None() bool {
	return !s.All && s.SchoolID == nil && s.UnitID == nil
}

// Allows reports whether a record with the given references is in scope.
func (s Scope) Allows(schoolID, unitID *uuid.UUID) bool {
	switch {
	case s.All:
		return true
	case s.SchoolID != nil:
		return schoolID != nil && *schoolID == *s.SchoolID
	case s.UnitID != nil:
		return unitID != nil && *unitID == *s.UnitID
	}
	return false
}

// ScoutScope returns the records actor may see: admins everything, staff
// their school, unit leaders their unit, everyone else nothing.
func ScoutScope(actor *Actor) Scope {
	if actor == nil {
		return Scope{}
	}
	switch actor.Role {
	case models.RoleAdmin:
		return Scope{All: true}
	case models.RoleStaff:
		return Scope{SchoolID: actor.SchoolID}
	case models.RoleUnitLeader:
		return Scope{UnitID: actor.UnitID}
	}
	return Scope{}
}
