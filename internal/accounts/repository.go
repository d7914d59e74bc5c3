package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/database"
)

const accountColumns = `id, email, username, password_hash, role, is_approved, school_id, unit_id, created_at, updated_at`

// Repository handles account persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an accounts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Role, &a.IsApproved, &a.SchoolID, &a.UnitID,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "account not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Create inserts a new account; the e-mail must be unused.
func (r *Repository) Create(ctx context.Context, a *models.Account) error {
	const q = `INSERT INTO users (email, username, password_hash, role, is_approved, school_id, unit_id)
		VALUES (LOWER($1), $2, $3, $4, $5, $6, $7)
		RETURNING id, email, created_at, updated_at`
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, a.Email, a.Username, a.PasswordHash, a.Role, a.IsApproved, a.SchoolID, a.UnitID).
		Scan(&a.ID, &a.Email, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("accounts.Create", "email already registered", err)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID returns an account by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("accounts.GetByID", err)
	}
	return a, nil
}

// GetByEmail returns an account by e-mail, ignoring case.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	a, err := scanAccount(database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return nil, notFound("accounts.GetByEmail", err)
	}
	return a, nil
}

// ListPending returns unapproved accounts, newest first.
func (r *Repository) ListPending(ctx context.Context) ([]models.Account, error) {
	rows, err := database.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+accountColumns+` FROM users WHERE is_approved = FALSE ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pending accounts: %w", err)
	}
	defer rows.Close()
	list := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// MarkApproved flips is_approved once; approving twice is an illegal transition.
func (r *Repository) MarkApproved(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	const op = "accounts.MarkApproved"
	conn := database.Conn(ctx, r.pool)
	a, err := scanAccount(conn.QueryRow(ctx,
		`UPDATE users SET is_approved = TRUE, updated_at = NOW() WHERE id = $1 AND is_approved = FALSE RETURNING `+accountColumns, id))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, apperr.NotFound(op, "account not found")
	}
	return nil, apperr.IllegalTransition(op, "account is already approved")
}

// Delete hard-deletes an account.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("accounts.Delete", "account not found")
	}
	return nil
}
