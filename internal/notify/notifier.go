package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/queue"
)

// EmailQueue accepts e-mail jobs for the worker.
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// QueueNotifier renders decision e-mails and hands them to the worker queue.
// Failures are logged and never reach the caller.
type QueueNotifier struct {
	queue   EmailQueue
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewQueueNotifier creates a QueueNotifier.
func NewQueueNotifier(q EmailQueue, m *metrics.Metrics, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: q, metrics: m, logger: logger}
}

func (n *QueueNotifier) AccountApproved(ctx context.Context, a models.Account) {
	n.enqueue(ctx, TemplateApproved, a)
}

func (n *QueueNotifier) AccountRejected(ctx context.Context, a models.Account) {
	n.enqueue(ctx, TemplateRejected, a)
}

func (n *QueueNotifier) enqueue(ctx context.Context, template string, a models.Account) {
	subject, html, err := Render(template, a)
	if err != nil {
		n.logger.Error("render email failed", zap.String("template", template), zap.Error(err))
		return
	}
	err = n.queue.EnqueueEmail(context.WithoutCancel(ctx), queue.EmailPayload{
		Template:  template,
		AccountID: a.ID,
		To:        a.Email,
		Subject:   subject,
		BodyHTML:  html,
	})
	if err != nil {
		n.metrics.NotificationSent(template, err)
		n.logger.Warn("enqueue email failed", zap.String("template", template), zap.String("account_id", a.ID.String()), zap.Error(err))
	}
}
