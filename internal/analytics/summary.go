// Package analytics reports aggregate membership figures for the records an
// actor may see.
package analytics

import (
	"context"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/models"
)

// Counter aggregates scout records by status.
type Counter interface {
	CountByStatus(ctx context.Context, scope access.Scope) ([]models.StatusCount, error)
}

// Summary is the JSON shape for GET /stats/membership.
type Summary struct {
	Total              int      `json:"total"`
	Pending            int      `json:"pending"`
	Active             int      `json:"active"`
	Expired            int      `json:"expired"`
	AvgMembershipYears float64  `json:"avgMembershipYears"`
	RenewalRate        *float64 `json:"renewalRate,omitempty"`
}

// Service builds scoped summaries.
type Service struct {
	counter Counter
	guard   *access.Guard
}

// NewService creates an analytics service.
func NewService(counter Counter, guard *access.Guard) *Service {
	return &Service{counter: counter, guard: guard}
}

// Membership summarizes the records in the actor's scope. Unit leaders and up.
func (s *Service) Membership(ctx context.Context, actor *access.Actor) (*Summary, error) {
	if err := s.guard.Authorize(ctx, actor, models.RoleUnitLeader, "analytics.Membership"); err != nil {
		return nil, err
	}
	out := &Summary{}
	scope := access.ScoutScope(actor)
	if scope.None() {
		return out, nil
	}
	counts, err := s.counter.CountByStatus(ctx, scope)
	if err != nil {
		return nil, err
	}
	years := 0
	for _, c := range counts {
		out.Total += c.Count
		years += c.Years
		switch c.Status {
		case models.StatusPending:
			out.Pending += c.Count
		case models.StatusActive:
			out.Active += c.Count
		case models.StatusExpired:
			out.Expired += c.Count
		}
	}
	if out.Total > 0 {
		out.AvgMembershipYears = float64(years) / float64(out.Total)
	}
	// Share of records that ever left pending and are currently active.
	if decided := out.Active + out.Expired; decided > 0 {
		rate := float64(out.Active) / float64(decided)
		out.RenewalRate = &rate
	}
	return out, nil
}
