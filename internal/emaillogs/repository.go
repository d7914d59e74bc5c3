package emaillogs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scouthub/backend/internal/models"
)

// Repository handles email_logs persistence. Account IDs are weak references:
// logs of a rejected (deleted) account are kept.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert records a delivery attempt.
func (r *Repository) Insert(ctx context.Context, el *models.EmailLog) error {
	const q = `INSERT INTO email_logs (id, account_id, template, recipient_email, subject, status, message_id, sent_at, error_message)
		VALUES (gen_random_uuid(), $1, $2, $3, NULLIF($4,''), $5, NULLIF($6,''), $7, NULLIF($8,''))
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, el.AccountID, el.Template, el.RecipientEmail, el.Subject, el.Status, el.MessageID, el.SentAt, el.ErrorMessage).
		Scan(&el.ID, &el.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// ListByAccount returns email logs for an account, newest first.
func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.EmailLog, error) {
	const q = `SELECT id, account_id, template, recipient_email, COALESCE(subject,''), status, COALESCE(message_id,''),
		sent_at, COALESCE(error_message,''), created_at
		FROM email_logs
		WHERE account_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.EmailLog{}
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.AccountID, &el.Template, &el.RecipientEmail, &el.Subject, &el.Status, &el.MessageID,
			&el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, el)
	}
	return list, rows.Err()
}
