// Package notify renders and delivers account decision e-mails.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// Message is one outgoing e-mail.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message and returns the provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ResendSender sends e-mails through the Resend API.
type ResendSender struct {
	client  *resend.Client
	from    string
	replyTo string
	logger  *zap.Logger
}

// NewResendSender creates a sender. from is "Name <address>" or a bare address.
func NewResendSender(apiKey, from, replyTo string, logger *zap.Logger) *ResendSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendSender{client: resend.NewClient(apiKey), from: from, replyTo: replyTo, logger: logger}
}

// Send sends a single e-mail via Resend.
func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if s.replyTo != "" {
		params.ReplyTo = s.replyTo
	}
	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("resend send failed: %w", err)
	}
	s.logger.Info("email sent", zap.String("message_id", sent.Id), zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return sent.Id, nil
}

// LogSender only logs messages. Used when no e-mail provider is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("email not sent (no provider configured)",
		zap.String("message_id", id), zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return id, nil
}
