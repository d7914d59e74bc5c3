// Package accounts implements registration, approval and rejection of
// accounts, and the credential check behind login.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/pkg/database"
	"github.com/scouthub/backend/pkg/sanitize"
	"github.com/scouthub/backend/pkg/utils"
)

var (
	// ErrInvalidCredentials is returned for an unknown e-mail or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNotApproved is returned when a pending account tries to sign in.
	ErrNotApproved = apperr.Unauthorized("accounts.Authenticate", "account is pending approval")
)

// Store persists accounts.
type Store interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	ListPending(ctx context.Context) ([]models.Account, error)
	// MarkApproved fails with IllegalTransition when the account is already approved.
	MarkApproved(ctx context.Context, id uuid.UUID) (*models.Account, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Memberships is the part of the membership engine the workflow drives.
type Memberships interface {
	Register(ctx context.Context, in scouts.RegisterInput) (*models.ScoutRecord, error)
	FindByEmail(ctx context.Context, email string) (*models.ScoutRecord, error)
	ActivateFromApproval(ctx context.Context, id uuid.UUID) (*models.ScoutRecord, error)
}

// Notifier tells account holders about decisions. Calls happen after commit
// and must not fail the request.
type Notifier interface {
	AccountApproved(ctx context.Context, a models.Account)
	AccountRejected(ctx context.Context, a models.Account)
}

// RegisterInput is a public account registration.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	Role      string
	SchoolID  *uuid.UUID
	UnitID    *uuid.UUID
	IPAddress string
}

// BootstrapInput creates the first admin from the command line.
type BootstrapInput struct {
	Email    string
	Username string
	Password string
}

// Service implements the registration and approval workflow.
type Service struct {
	store    Store
	tx       database.Transactor
	guard    *access.Guard
	recorder *audit.Recorder
	scouts   Memberships
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type Option func(*Service)

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService creates the workflow.
func NewService(store Store, tx database.Transactor, guard *access.Guard, recorder *audit.Recorder, memberships Memberships, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, tx: tx, guard: guard, recorder: recorder, scouts: memberships, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) newAccount(op, email, username, password string) (*models.Account, error) {
	email = sanitize.Email(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperr.Validation(op, "invalid email")
	}
	username = sanitize.Text(username)
	if username == "" {
		return nil, apperr.Validation(op, "username is required")
	}
	if len(password) < utils.MinPasswordLength {
		return nil, apperr.Validation(op, fmt.Sprintf("password must be at least %d characters", utils.MinPasswordLength))
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: hash password: %w", op, err)
	}
	return &models.Account{Email: email, Username: username, PasswordHash: hash}, nil
}

// Register creates an unapproved account. A scout registration also creates a
// pending scout record with the same name and e-mail, in the same transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	const op = "accounts.Register"
	role := models.RoleUser
	if in.Role != "" {
		var err error
		if role, err = models.ParseRole(in.Role); err != nil {
			return nil, err
		}
	}
	if role == models.RoleAdmin {
		return nil, apperr.Validation(op, "admin accounts cannot be self-registered")
	}
	acc, err := s.newAccount(op, in.Email, in.Username, in.Password)
	if err != nil {
		return nil, err
	}
	acc.Role = role
	acc.SchoolID = in.SchoolID
	acc.UnitID = in.UnitID

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, acc); err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, audit.Entry{
			ActorID:   &acc.ID,
			Action:    models.ActionRegisteredUser,
			Details:   fmt.Sprintf("account %s registered as %s", acc.Email, acc.Role),
			Category:  models.CategoryCreate,
			IPAddress: in.IPAddress,
		}); err != nil {
			return err
		}
		if role != models.RoleScout {
			return nil
		}
		_, err := s.scouts.Register(ctx, scouts.RegisterInput{
			Name:      acc.Username,
			Email:     acc.Email,
			SchoolID:  acc.SchoolID,
			UnitID:    acc.UnitID,
			IPAddress: in.IPAddress,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Registered("account")
	s.logger.Info("account registered", zap.String("account_id", acc.ID.String()), zap.String("role", string(acc.Role)))
	return acc, nil
}

// Approve marks a pending account approved. For a scout account the oldest
// scout record with the same e-mail is activated in the same transaction; a
// missing or non-pending record does not block the approval and is noted in
// the audit details.
func (s *Service) Approve(ctx context.Context, actor *access.Actor, id uuid.UUID) (*models.Account, error) {
	const op = "accounts.Approve"
	if err := s.guard.Authorize(ctx, actor, models.RoleAdmin, op); err != nil {
		return nil, err
	}
	var acc *models.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if acc, err = s.store.MarkApproved(ctx, id); err != nil {
			return err
		}
		details := fmt.Sprintf("account %s (%s) approved", acc.Email, acc.Role)
		if acc.Role == models.RoleScout {
			note, err := s.activateScout(ctx, acc.Email)
			if err != nil {
				return err
			}
			details += "; " + note
		}
		_, err = s.recorder.Record(ctx, audit.Entry{
			ActorID:   actor.AuditID(),
			Action:    models.ActionApprovedUser,
			Details:   details,
			Category:  models.CategoryUpdate,
			IPAddress: actor.ClientIP(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account approved", zap.String("account_id", acc.ID.String()), zap.String("actor_id", actor.ID.String()))
	if s.notifier != nil {
		s.notifier.AccountApproved(ctx, *acc)
	}
	return acc, nil
}

func (s *Service) activateScout(ctx context.Context, email string) (string, error) {
	rec, err := s.scouts.FindByEmail(ctx, email)
	if apperr.IsNotFound(err) {
		return "no scout record with matching email", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := s.scouts.ActivateFromApproval(ctx, rec.ID); err != nil {
		if apperr.IsIllegalTransition(err) {
			return fmt.Sprintf("scout %s left %s", rec.UID, rec.Status), nil
		}
		return "", err
	}
	return fmt.Sprintf("scout %s activated", rec.UID), nil
}

// Reject hard-deletes an account. An admin cannot reject their own account.
func (s *Service) Reject(ctx context.Context, actor *access.Actor, id uuid.UUID) error {
	const op = "accounts.Reject"
	if err := s.guard.Authorize(ctx, actor, models.RoleAdmin, op); err != nil {
		return err
	}
	if actor.ID == id {
		return apperr.Validation(op, "cannot delete your own account")
	}
	var acc *models.Account
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if acc, err = s.store.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, audit.Entry{
			ActorID:   actor.AuditID(),
			Action:    models.ActionDeletedUser,
			Details:   fmt.Sprintf("account %s (%s) deleted", acc.Email, acc.Role),
			Category:  models.CategoryDelete,
			IPAddress: actor.ClientIP(),
		})
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Info("account rejected", zap.String("account_id", id.String()), zap.String("actor_id", actor.ID.String()))
	if s.notifier != nil {
		s.notifier.AccountRejected(ctx, *acc)
	}
	return nil
}

// ListPending returns unapproved accounts, newest first.
func (s *Service) ListPending(ctx context.Context, actor *access.Actor) ([]models.Account, error) {
	if err := s.guard.Authorize(ctx, actor, models.RoleAdmin, "accounts.ListPending"); err != nil {
		return nil, err
	}
	return s.store.ListPending(ctx)
}

// BootstrapAdmin creates an approved admin with a system audit entry.
// It has no actor and is reachable only from the admin CLI.
func (s *Service) BootstrapAdmin(ctx context.Context, in BootstrapInput) (*models.Account, error) {
	const op = "accounts.BootstrapAdmin"
	acc, err := s.newAccount(op, in.Email, in.Username, in.Password)
	if err != nil {
		return nil, err
	}
	acc.Role = models.RoleAdmin
	acc.IsApproved = true
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, acc); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, audit.Entry{
			Action:   models.ActionCreatedAdmin,
			Details:  fmt.Sprintf("admin %s created from the command line", acc.Email),
			Category: models.CategorySystem,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Authenticate checks credentials. Pending accounts are refused with
// ErrNotApproved; a successful sign-in writes a best-effort login entry.
func (s *Service) Authenticate(ctx context.Context, email, password, ip string) (*models.Account, error) {
	acc, err := s.store.GetByEmail(ctx, sanitize.Email(email))
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(password, acc.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !acc.IsApproved {
		return nil, ErrNotApproved
	}
	s.recorder.RecordBestEffort(ctx, audit.Entry{
		ActorID:   &acc.ID,
		Action:    models.ActionUserLogin,
		Details:   fmt.Sprintf("account %s signed in", acc.Email),
		Category:  models.CategoryLogin,
		IPAddress: ip,
	})
	return acc, nil
}

// ActorByID resolves the server-side identity for an authenticated request.
// Role and scope always come from the stored account, never from the token.
func (s *Service) ActorByID(ctx context.Context, id uuid.UUID) (*access.Actor, error) {
	acc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.IsApproved {
		return nil, ErrNotApproved
	}
	return &access.Actor{ID: acc.ID, Role: acc.Role, SchoolID: acc.SchoolID, UnitID: acc.UnitID}, nil
}

// Me returns the caller's own account.
func (s *Service) Me(ctx context.Context, actor *access.Actor) (*models.Account, error) {
	if err := s.guard.Authorize(ctx, actor, models.RoleUser, "accounts.Me"); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, actor.ID)
}
