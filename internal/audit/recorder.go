// Package audit is the append-only trail of every state transition.
//
// Record is called inside the caller's unit of work, so an entry commits or
// rolls back together with the mutation it describes. RecordBestEffort is for
// entries that accompany no mutation (logins, denials, scheduling); a failed
// write is queued for replay instead of failing the request.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/database"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store persists audit entries. It offers no update or delete.
type Store interface {
	// Insert is idempotent by entry ID.
	Insert(ctx context.Context, e *models.AuditEntry) error
	// List returns entries newest first (created_at DESC, id DESC).
	List(ctx context.Context, f Filter) ([]models.AuditEntry, error)
}

// Filter narrows a trail query. Since is inclusive, Until exclusive.
type Filter struct {
	UserID   *uuid.UUID
	Category models.AuditCategory
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// Entry is what callers hand to the recorder; ID and timestamp are stamped on write.
type Entry struct {
	ActorID   *uuid.UUID
	Action    string
	Details   string
	Category  models.AuditCategory
	IPAddress string
}

// RetryQueue accepts entries whose best-effort write failed.
type RetryQueue interface {
	EnqueueAuditRetry(ctx context.Context, e models.AuditEntry) error
}

// Publisher fans committed entries out to live subscribers.
type Publisher interface {
	PublishAudit(ctx context.Context, e models.AuditEntry)
}

// Recorder writes and reads the trail.
type Recorder struct {
	store        Store
	retry        RetryQueue
	publisher    Publisher
	metrics      *metrics.Metrics
	logger       *zap.Logger
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

type Option func(*Recorder)

func WithRetryQueue(q RetryQueue) Option { return func(r *Recorder) { r.retry = q } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Recorder) { r.metrics = m } }

// WithPublisher streams every committed entry to p.
func WithPublisher(p Publisher) Option { return func(r *Recorder) { r.publisher = p } }

// WithLimits overrides the default and maximum page size of list queries.
func WithLimits(def, max int) Option {
	return func(r *Recorder) {
		if def > 0 {
			r.defaultLimit = def
		}
		if max > 0 {
			r.maxLimit = max
		}
	}
}

func WithClock(now func() time.Time) Option { return func(r *Recorder) { r.now = now } }

// NewRecorder creates a Recorder over store.
func NewRecorder(store Store, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		store:        store,
		logger:       logger,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultLimit > r.maxLimit {
		r.defaultLimit = r.maxLimit
	}
	return r
}

func (r *Recorder) build(e Entry) (*models.AuditEntry, error) {
	const op = "audit.Record"
	if !e.Category.Valid() {
		return nil, apperr.Validation(op, "invalid audit category")
	}
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return nil, apperr.Validation(op, "audit action is required")
	}
	entry := &models.AuditEntry{
		ID:        uuid.New(),
		UserID:    e.ActorID,
		Action:    action,
		Details:   e.Details,
		Category:  e.Category,
		CreatedAt: r.now().UTC(),
	}
	if ip := strings.TrimSpace(e.IPAddress); ip != "" {
		entry.IPAddress = &ip
	}
	return entry, nil
}

// Record appends one entry. Called with a transactional ctx, the entry commits
// with the surrounding mutation; an error must abort that mutation.
func (r *Recorder) Record(ctx context.Context, e Entry) (*models.AuditEntry, error) {
	entry, err := r.build(e)
	if err != nil {
		return nil, err
	}
	if err := r.store.Insert(ctx, entry); err != nil {
		r.metrics.AuditWrite(string(entry.Category), "failed")
		return nil, err
	}
	r.metrics.AuditWrite(string(entry.Category), "ok")
	r.publish(ctx, *entry)
	return entry, nil
}

// publish hands e to the publisher once the surrounding unit of work commits.
func (r *Recorder) publish(ctx context.Context, e models.AuditEntry) {
	if r.publisher == nil {
		return
	}
	database.AfterCommit(ctx, func() {
		r.publisher.PublishAudit(context.WithoutCancel(ctx), e)
	})
}

// RecordBestEffort appends one entry without failing the caller. A failed
// write is logged and, when a retry queue is configured, queued for replay.
func (r *Recorder) RecordBestEffort(ctx context.Context, e Entry) {
	entry, err := r.build(e)
	if err != nil {
		r.logger.Error("invalid audit entry dropped", zap.String("action", e.Action), zap.Error(err))
		return
	}
	err = r.store.Insert(ctx, entry)
	if err == nil {
		r.metrics.AuditWrite(string(entry.Category), "ok")
		r.publish(ctx, *entry)
		return
	}
	r.metrics.AuditWrite(string(entry.Category), "failed")
	r.logger.Error("audit write failed",
		zap.String("audit_id", entry.ID.String()),
		zap.String("action", entry.Action),
		zap.Error(err))
	if r.retry == nil {
		return
	}
	if qerr := r.retry.EnqueueAuditRetry(context.WithoutCancel(ctx), *entry); qerr != nil {
		r.logger.Error("audit retry enqueue failed", zap.String("audit_id", entry.ID.String()), zap.Error(qerr))
		return
	}
	r.metrics.AuditWrite(string(entry.Category), "queued")
}

// RecordDenial writes a best-effort system entry for a refused action.
func (r *Recorder) RecordDenial(ctx context.Context, actorID *uuid.UUID, details string) {
	r.RecordBestEffort(ctx, Entry{
		ActorID:  actorID,
		Action:   models.ActionAccessDenied,
		Details:  details,
		Category: models.CategorySystem,
	})
}

// Replay inserts an entry exactly as it was first built. Replaying an entry
// that already landed is a no-op.
func (r *Recorder) Replay(ctx context.Context, e models.AuditEntry) error {
	if e.ID == uuid.Nil || !e.Category.Valid() || strings.TrimSpace(e.Action) == "" {
		return apperr.Validation("audit.Replay", "malformed audit entry")
	}
	if err := r.store.Insert(ctx, &e); err != nil {
		return err
	}
	r.metrics.AuditWrite(string(e.Category), "ok")
	r.publish(ctx, e)
	return nil
}

func (r *Recorder) limit(n int) int {
	if n <= 0 {
		return r.defaultLimit
	}
	if n > r.maxLimit {
		return r.maxLimit
	}
	return n
}

// List returns the newest entries.
func (r *Recorder) List(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	return r.Query(ctx, Filter{Limit: limit})
}

// ListByActor returns the newest entries written by actorID.
func (r *Recorder) ListByActor(ctx context.Context, actorID uuid.UUID, limit int) ([]models.AuditEntry, error) {
	return r.Query(ctx, Filter{UserID: &actorID, Limit: limit})
}

// ListByCategory returns the newest entries of one category.
func (r *Recorder) ListByCategory(ctx context.Context, category models.AuditCategory, limit int) ([]models.AuditEntry, error) {
	return r.Query(ctx, Filter{Category: category, Limit: limit})
}

// Query returns entries matching f, newest first, with the limit clamped.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]models.AuditEntry, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, apperr.Validation("audit.Query", "invalid audit category")
	}
	if f.Offset < 0 {
		return nil, apperr.Validation("audit.Query", "offset must not be negative")
	}
	f.Limit = r.limit(f.Limit)
	entries, err := r.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	return entries, nil
}
