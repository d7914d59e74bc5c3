// Package worker consumes the Redis job queue: notification e-mails, audit
// entry replay and audit archive exports.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/internal/notify"
	"github.com/scouthub/backend/pkg/queue"
)

// ErrArchiveDisabled is returned for archive jobs when no object storage is configured.
var ErrArchiveDisabled = errors.New("audit archive storage not configured")

// JobSource is the queue the worker drains.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// AuditReplayer re-inserts entries whose first write failed.
type AuditReplayer interface {
	Replay(ctx context.Context, e models.AuditEntry) error
}

// ArchiveRunner exports a window of the audit trail.
type ArchiveRunner interface {
	Archive(ctx context.Context, since, until time.Time) (*audit.ArchiveResult, error)
}

// EmailLogWriter records delivery attempts.
type EmailLogWriter interface {
	Insert(ctx context.Context, el *models.EmailLog) error
}

// Processor dispatches jobs by type.
type Processor struct {
	source      JobSource
	sender      notify.Sender
	emailLogs   EmailLogWriter
	replayer    AuditReplayer
	archiver    ArchiveRunner
	metrics     *metrics.Metrics
	logger      *zap.Logger
	backoff     time.Duration
	pollTimeout time.Duration
}

type Option func(*Processor)

// WithArchiver enables audit_archive jobs.
func WithArchiver(a ArchiveRunner) Option { return func(p *Processor) { p.archiver = a } }

func WithEmailLogs(w EmailLogWriter) Option { return func(p *Processor) { p.emailLogs = w } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithBackoff sets the pause after a failed job or dequeue error.
func WithBackoff(d time.Duration) Option { return func(p *Processor) { p.backoff = d } }

// WithPollTimeout sets how long one dequeue call blocks.
func WithPollTimeout(d time.Duration) Option { return func(p *Processor) { p.pollTimeout = d } }

// NewProcessor creates a job processor.
func NewProcessor(source JobSource, sender notify.Sender, replayer AuditReplayer, logger *zap.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		source:      source,
		sender:      sender,
		replayer:    replayer,
		logger:      logger,
		backoff:     queue.RetryBackoff,
		pollTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Type {
	case queue.JobTypeEmail:
		err = p.processEmail(ctx, job)
	case queue.JobTypeAuditRetry:
		err = p.processAuditRetry(ctx, job)
	case queue.JobTypeAuditArchive:
		err = p.processArchive(ctx, job)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}
	p.metrics.JobProcessed(string(job.Type), err)
	return err
}

func (p *Processor) processEmail(ctx context.Context, job *queue.Job) error {
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	msgID, sendErr := p.sender.Send(ctx, notify.Message{To: payload.To, Subject: payload.Subject, HTML: payload.BodyHTML})
	p.metrics.NotificationSent(payload.Template, sendErr)

	if p.emailLogs != nil {
		el := &models.EmailLog{
			AccountID:      payload.AccountID,
			Template:       payload.Template,
			RecipientEmail: payload.To,
			Subject:        payload.Subject,
			Status:         models.EmailLogStatusSent,
			MessageID:      msgID,
		}
		if sendErr != nil {
			el.Status = models.EmailLogStatusFailed
			el.ErrorMessage = sendErr.Error()
		} else {
			now := time.Now().UTC()
			el.SentAt = &now
		}
		if err := p.emailLogs.Insert(ctx, el); err != nil {
			p.logger.Warn("email log insert failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if sendErr != nil {
		return fmt.Errorf("send %s: %w", payload.Template, sendErr)
	}
	return nil
}

func (p *Processor) processAuditRetry(ctx context.Context, job *queue.Job) error {
	var payload queue.AuditRetryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.replayer.Replay(ctx, payload.Entry); err != nil {
		return fmt.Errorf("replay audit entry %s: %w", payload.Entry.ID, err)
	}
	p.logger.Info("audit entry replayed", zap.String("audit_id", payload.Entry.ID.String()))
	return nil
}

func (p *Processor) processArchive(ctx context.Context, job *queue.Job) error {
	if p.archiver == nil {
		return ErrArchiveDisabled
	}
	var payload queue.AuditArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	res, err := p.archiver.Archive(ctx, payload.Since, payload.Until)
	if err != nil {
		return fmt.Errorf("archive audit trail: %w", err)
	}
	p.logger.Info("audit archive completed",
		zap.String("job_id", job.ID),
		zap.String("key", res.Key),
		zap.Int("entries", res.Entries),
		zap.String("download_url", res.URL))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("worker stopping")
			return
		}

		job, err := p.source.Dequeue(ctx, p.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := p.source.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
