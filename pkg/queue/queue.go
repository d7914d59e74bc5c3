package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/models"
)

const (
	// QueueEmails is the Redis list key for notification e-mail jobs.
	QueueEmails = "worker:emails"
	// QueueAudit is the Redis list key for audit replay and archive jobs.
	QueueAudit = "worker:audit"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEmail        JobType = "email"
	JobTypeAuditRetry   JobType = "audit_retry"
	JobTypeAuditArchive JobType = "audit_archive"
)

// EmailPayload is the payload for notification e-mail jobs.
type EmailPayload struct {
	Template  string    `json:"template"`
	AccountID uuid.UUID `json:"accountId"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	BodyHTML  string    `json:"bodyHtml"`
}

// AuditRetryPayload carries an audit entry whose first write failed.
type AuditRetryPayload struct {
	Entry models.AuditEntry `json:"entry"`
}

// AuditArchivePayload asks the worker to export [Since, Until) to object storage.
type AuditArchivePayload struct {
	Since       time.Time  `json:"since"`
	Until       time.Time  `json:"until"`
	RequestedBy *uuid.UUID `json:"requestedBy,omitempty"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"createdAt"`
}

// KeyFor returns the list a job type is pushed to.
func KeyFor(t JobType) string {
	switch t {
	case JobTypeEmail:
		return QueueEmails
	default:
		return QueueAudit
	}
}

// NewJob wraps payload in a fresh job envelope.
func NewJob(t JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) push(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, KeyFor(job.Type), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

func (q *Queue) enqueue(ctx context.Context, t JobType, payload any) (string, error) {
	job, err := NewJob(t, payload)
	if err != nil {
		return "", err
	}
	if err := q.push(ctx, job); err != nil {
		return "", err
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(t)))
	return job.ID, nil
}

// EnqueueEmail enqueues a notification e-mail job.
func (q *Queue) EnqueueEmail(ctx context.Context, payload EmailPayload) error {
	_, err := q.enqueue(ctx, JobTypeEmail, payload)
	return err
}

// EnqueueAuditRetry enqueues an audit entry for replay.
func (q *Queue) EnqueueAuditRetry(ctx context.Context, entry models.AuditEntry) error {
	_, err := q.enqueue(ctx, JobTypeAuditRetry, AuditRetryPayload{Entry: entry})
	return err
}

// EnqueueAuditArchive enqueues an archive export and returns the job ID.
func (q *Queue) EnqueueAuditArchive(ctx context.Context, payload AuditArchivePayload) (string, error) {
	return q.enqueue(ctx, JobTypeAuditArchive, payload)
}

// Dequeue blocks for at most timeout waiting on every job list.
// It returns a nil job when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueAudit, QueueEmails).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("queue", result[0]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
