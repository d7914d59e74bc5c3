// Package scouts is the membership status engine: scout registration, the
// pending → active → expired → active lifecycle, and scoped record access.
package scouts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/database"
	"github.com/scouthub/backend/pkg/sanitize"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	uidAttempts      = 5
)

// Store persists scout records.
type Store interface {
	Create(ctx context.Context, s *models.ScoutRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScoutRecord, error)
	GetByUID(ctx context.Context, uid string) (*models.ScoutRecord, error)
	FirstByEmail(ctx context.Context, email string) (*models.ScoutRecord, error)
	List(ctx context.Context, f ListFilter) ([]models.ScoutRecord, error)
	UpdateProfile(ctx context.Context, s *models.ScoutRecord) error
	// Transition fails with IllegalTransition when the record is no longer in from.
	Transition(ctx context.Context, id uuid.UUID, from, to models.MembershipStatus, yearsDelta int) (*models.ScoutRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListFilter selects records for List.
type ListFilter struct {
	Scope  access.Scope
	Status models.MembershipStatus
	Limit  int
	Offset int
}

// RegisterInput is a public scout registration.
type RegisterInput struct {
	Name         string
	Email        string
	SchoolID     *uuid.UUID
	UnitID       *uuid.UUID
	Address      string
	ContactNo    string
	GuardianName string
	IPAddress    string
}

// UpdateInput holds the fields to change; nil means unchanged.
type UpdateInput struct {
	Name            *string
	Email           *string
	SchoolID        *uuid.UUID
	UnitID          *uuid.UUID
	Address         *string
	ContactNo       *string
	GuardianName    *string
	Status          *models.MembershipStatus
	MembershipYears *int
}

// ListQuery is the caller side of List.
type ListQuery struct {
	Status models.MembershipStatus
	Limit  int
	Offset int
}

// Service implements the membership engine.
type Service struct {
	store     Store
	tx        database.Transactor
	guard     *access.Guard
	recorder  *audit.Recorder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	uidPrefix string
	now       func() time.Time
	newUID    func(prefix string, year int) (string, error)
}

type Option func(*Service)

func WithUIDPrefix(prefix string) Option {
	return func(s *Service) {
		if prefix != "" {
			s.uidPrefix = prefix
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithUIDGenerator replaces the random uid source.
func WithUIDGenerator(gen func(prefix string, year int) (string, error)) Option {
	return func(s *Service) { s.newUID = gen }
}

// NewService creates the membership engine.
func NewService(store Store, tx database.Transactor, guard *access.Guard, recorder *audit.Recorder, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		tx:        tx,
		guard:     guard,
		recorder:  recorder,
		logger:    logger,
		uidPrefix: "BSP",
		now:       time.Now,
		newUID:    NewUID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a pending record with membershipYears 0 and a fresh uid.
// It is public; the create entry carries no actor.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.ScoutRecord, error) {
	const op = "scouts.Register"
	rec := &models.ScoutRecord{
		Name:         sanitize.Text(in.Name),
		Status:       models.StatusPending,
		SchoolID:     in.SchoolID,
		UnitID:       in.UnitID,
		Address:      sanitize.Text(in.Address),
		ContactNo:    sanitize.Text(in.ContactNo),
		GuardianName: sanitize.Text(in.GuardianName),
	}
	if rec.Name == "" {
		return nil, apperr.Validation(op, "name is required")
	}
	if email := sanitize.Email(in.Email); email != "" {
		if !validEmail(email) {
			return nil, apperr.Validation(op, "invalid email")
		}
		rec.Email = &email
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.createWithUID(ctx, rec); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, audit.Entry{
			Action:    models.ActionRegisteredScout,
			Details:   fmt.Sprintf("scout %s registered as %s", rec.ID, rec.UID),
			Category:  models.CategoryCreate,
			IPAddress: in.IPAddress,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Registered("scout")
	s.logger.Info("scout registered", zap.String("scout_id", rec.ID.String()), zap.String("uid", rec.UID))
	return rec, nil
}

func (s *Service) createWithUID(ctx context.Context, rec *models.ScoutRecord) error {
	var lastErr error
	for i := 0; i < uidAttempts; i++ {
		uid, err := s.newUID(s.uidPrefix, s.now().UTC().Year())
		if err != nil {
			return err
		}
		rec.UID = uid
		// A unique violation aborts the enclosing transaction; the savepoint
		// keeps it usable for the next attempt.
		lastErr = s.tx.WithinSavepoint(ctx, func(ctx context.Context) error {
			return s.store.Create(ctx, rec)
		})
		if !apperr.IsConflict(lastErr) {
			return lastErr
		}
		s.logger.Warn("scout uid collision, retrying", zap.String("uid", uid))
	}
	return lastErr
}

// Get returns a record in the actor's scope; anything else is NotFound.
func (s *Service) Get(ctx context.Context, actor *access.Actor, id uuid.UUID) (*models.ScoutRecord, error) {
	const op = "scouts.Get"
	if err := s.guard.Authorize(ctx, actor, models.RoleUnitLeader, op); err != nil {
		return nil, err
	}
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.ScoutScope(actor).Allows(rec.SchoolID, rec.UnitID) {
		return nil, apperr.NotFound(op, "scout record not found")
	}
	return rec, nil
}

// List returns the records in the actor's scope, newest first.
func (s *Service) List(ctx context.Context, actor *access.Actor, q ListQuery) ([]models.ScoutRecord, error) {
	const op = "scouts.List"
	if err := s.guard.Authorize(ctx, actor, models.RoleUnitLeader, op); err != nil {
		return nil, err
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation(op, "invalid status")
	}
	if q.Offset < 0 {
		return nil, apperr.Validation(op, "offset must not be negative")
	}
	scope := access.ScoutScope(actor)
	if scope.None() {
		return []models.ScoutRecord{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	} else if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.List(ctx, ListFilter{Scope: scope, Status: q.Status, Limit: limit, Offset: q.Offset})
}

// LookupByUID is the public verification lookup. The match ignores case and
// the result omits every sensitive field.
func (s *Service) LookupByUID(ctx context.Context, uid string) (*models.ScoutLookup, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, apperr.Validation("scouts.LookupByUID", "uid is required")
	}
	rec, err := s.store.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	view := rec.ToLookup()
	return &view, nil
}

// FindByEmail returns the oldest record registered with email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.ScoutRecord, error) {
	return s.store.FirstByEmail(ctx, sanitize.Email(email))
}

// ActivateFromApproval moves a pending record to active. It writes no audit
// entry; the approval that triggers it does.
func (s *Service) ActivateFromApproval(ctx context.Context, id uuid.UUID) (*models.ScoutRecord, error) {
	rec, err := s.store.Transition(ctx, id, models.StatusPending, models.StatusActive, 0)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(models.StatusPending), string(models.StatusActive))
	return rec, nil
}

// Renew moves an expired membership back to active and adds one year.
func (s *Service) Renew(ctx context.Context, actor *access.Actor, id uuid.UUID) (*models.ScoutRecord, error) {
	return s.transition(ctx, actor, id, "scouts.Renew", models.StatusExpired, models.StatusActive, 1, models.ActionRenewedMembership)
}

// Expire moves an active membership to expired. Years are kept.
func (s *Service) Expire(ctx context.Context, actor *access.Actor, id uuid.UUID) (*models.ScoutRecord, error) {
	return s.transition(ctx, actor, id, "scouts.Expire", models.StatusActive, models.StatusExpired, 0, models.ActionExpiredMembership)
}

func (s *Service) transition(ctx context.Context, actor *access.Actor, id uuid.UUID, op string,
	from, to models.MembershipStatus, yearsDelta int, action string) (*models.ScoutRecord, error) {
	rec, err := s.loadForChange(ctx, actor, id, op)
	if err != nil {
		return nil, err
	}
	if rec.Status != from {
		return nil, apperr.IllegalTransition(op, fmt.Sprintf("membership is %s, not %s", rec.Status, from))
	}
	var out *models.ScoutRecord
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.Transition(ctx, id, from, to, yearsDelta)
		if err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, audit.Entry{
			ActorID:   actor.AuditID(),
			Action:    action,
			Details:   transitionDetails(out.UID, from, to, rec.MembershipYears, out.MembershipYears),
			Category:  models.CategoryUpdate,
			IPAddress: actor.ClientIP(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(from), string(to))
	s.logger.Info("membership transition",
		zap.String("scout_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("membership_years", out.MembershipYears))
	return out, nil
}

func transitionDetails(uid string, from, to models.MembershipStatus, yearsBefore, yearsAfter int) string {
	d := fmt.Sprintf("scout %s: %s -> %s", uid, from, to)
	if yearsAfter != yearsBefore {
		d += fmt.Sprintf(", membershipYears %d -> %d", yearsBefore, yearsAfter)
	}
	return d
}

// loadForChange authorizes a staff mutation and checks the record is in scope.
func (s *Service) loadForChange(ctx context.Context, actor *access.Actor, id uuid.UUID, op string) (*models.ScoutRecord, error) {
	if err := s.guard.Authorize(ctx, actor, models.RoleStaff, op); err != nil {
		return nil, err
	}
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.ScoutScope(actor).Allows(rec.SchoolID, rec.UnitID) {
		return nil, apperr.Unauthorized(op, "scout record is outside your scope")
	}
	return rec, nil
}

// Update edits profile fields. A status change is only accepted when it is a
// renewal or an expiry, and cannot be combined with a membershipYears change.
// Exactly one audit entry is written per call.
func (s *Service) Update(ctx context.Context, actor *access.Actor, id uuid.UUID, in UpdateInput) (*models.ScoutRecord, error) {
	const op = "scouts.Update"
	rec, err := s.loadForChange(ctx, actor, id, op)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && in.MembershipYears != nil {
		return nil, apperr.Validation(op, "status and membershipYears cannot change together")
	}

	next := *rec
	var changed []string
	if in.Name != nil {
		name := sanitize.Text(*in.Name)
		if name == "" {
			return nil, apperr.Validation(op, "name must not be empty")
		}
		next.Name = name
		changed = append(changed, "name")
	}
	if in.Email != nil {
		email := sanitize.Email(*in.Email)
		switch {
		case email == "":
			next.Email = nil
		case !validEmail(email):
			return nil, apperr.Validation(op, "invalid email")
		default:
			next.Email = &email
		}
		changed = append(changed, "email")
	}
	if in.SchoolID != nil {
		next.SchoolID = in.SchoolID
		changed = append(changed, "schoolId")
	}
	if in.UnitID != nil {
		next.UnitID = in.UnitID
		changed = append(changed, "unitId")
	}
	if in.Address != nil {
		next.Address = sanitize.Text(*in.Address)
		changed = append(changed, "address")
	}
	if in.ContactNo != nil {
		next.ContactNo = sanitize.Text(*in.ContactNo)
		changed = append(changed, "contactNo")
	}
	if in.GuardianName != nil {
		next.GuardianName = sanitize.Text(*in.GuardianName)
		changed = append(changed, "guardianName")
	}
	if in.MembershipYears != nil {
		if *in.MembershipYears < rec.MembershipYears {
			return nil, apperr.Validation(op, "membershipYears cannot decrease")
		}
		next.MembershipYears = *in.MembershipYears
		changed = append(changed, "membershipYears")
	}
	if (in.SchoolID != nil || in.UnitID != nil) && !access.ScoutScope(actor).Allows(next.SchoolID, next.UnitID) {
		return nil, apperr.Unauthorized(op, "cannot move scout record outside your scope")
	}

	action := models.ActionUpdatedScout
	var from, to models.MembershipStatus
	yearsDelta := 0
	if in.Status != nil && *in.Status != rec.Status {
		if !in.Status.Valid() {
			return nil, apperr.Validation(op, "invalid status")
		}
		from, to = rec.Status, *in.Status
		switch {
		case from == models.StatusExpired && to == models.StatusActive:
			action, yearsDelta = models.ActionRenewedMembership, 1
		case from == models.StatusActive && to == models.StatusExpired:
			action = models.ActionExpiredMembership
		default:
			return nil, apperr.IllegalTransition(op, fmt.Sprintf("cannot change membership from %s to %s", from, to))
		}
	}
	if len(changed) == 0 && to == "" {
		return nil, apperr.Validation(op, "no changes")
	}

	out := &next
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if len(changed) > 0 {
			if err := s.store.UpdateProfile(ctx, out); err != nil {
				return err
			}
		}
		details := fmt.Sprintf("scout %s", rec.UID)
		if len(changed) > 0 {
			details += ": updated " + strings.Join(changed, ", ")
		}
		if to != "" {
			var err error
			if out, err = s.store.Transition(ctx, id, from, to, yearsDelta); err != nil {
				return err
			}
			details += "; " + transitionDetails(rec.UID, from, to, rec.MembershipYears, out.MembershipYears)
		}
		_, err := s.recorder.Record(ctx, audit.Entry{
			ActorID:   actor.AuditID(),
			Action:    action,
			Details:   details,
			Category:  models.CategoryUpdate,
			IPAddress: actor.ClientIP(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if to != "" {
		s.metrics.Transition(string(from), string(to))
	}
	return out, nil
}

// Delete removes a record. Admin only.
func (s *Service) Delete(ctx context.Context, actor *access.Actor, id uuid.UUID) error {
	const op = "scouts.Delete"
	if err := s.guard.Authorize(ctx, actor, models.RoleAdmin, op); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rec, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, audit.Entry{
			ActorID:   actor.AuditID(),
			Action:    models.ActionDeletedScout,
			Details:   fmt.Sprintf("scout %s (%s) deleted", rec.UID, rec.Name),
			Category:  models.CategoryDelete,
			IPAddress: actor.ClientIP(),
		})
		return err
	})
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
