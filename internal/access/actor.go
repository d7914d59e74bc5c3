package access

import (
	"context"

	"github.com/google/uuid"

	"github.com/scouthub/backend/internal/models"
)

// Actor is the server-verified identity performing a request.
type Actor struct {
	ID       uuid.UUID
	Role     models.Role
	SchoolID *uuid.UUID
	UnitID   *uuid.UUID
	// IP is the client address of the request, recorded on audit entries.
	IP string
}

// AuditID returns the actor ID for an audit entry; nil for a system action.
func (a *Actor) AuditID() *uuid.UUID {
	if a == nil {
		return nil
	}
	id := a.ID
	return &id
}

// ClientIP returns the request address, or "" for a nil actor.
func (a *Actor) ClientIP() string {
	if a == nil {
		return ""
	}
	return a.IP
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(*Actor)
	return a, ok && a != nil
}
