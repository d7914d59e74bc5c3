package scouts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/pkg/database"
)

const scoutColumns = `id, uid, name, email, status, membership_years, school_id, unit_id,
	address, contact_no, guardian_name, created_at, updated_at`

// Repository persists scout records in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a scouts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanScout(row pgx.Row) (*models.ScoutRecord, error) {
	var s models.ScoutRecord
	err := row.Scan(&s.ID, &s.UID, &s.Name, &s.Email, &s.Status, &s.MembershipYears, &s.SchoolID, &s.UnitID,
		&s.Address, &s.ContactNo, &s.GuardianName, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "scout record not found")
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Create inserts a scout record; a duplicate uid is a conflict.
func (r *Repository) Create(ctx context.Context, s *models.ScoutRecord) error {
	const q = `INSERT INTO scouts (id, uid, name, email, status, membership_years, school_id, unit_id, address, contact_no, guardian_name)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, s.UID, s.Name, s.Email, s.Status, s.MembershipYears, s.SchoolID, s.UnitID,
		s.Address, s.ContactNo, s.GuardianName).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperr.Conflict("scouts.Create", "uid already exists", err)
		}
		return fmt.Errorf("insert scout: %w", err)
	}
	return nil
}

// GetByID returns a scout record by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScoutRecord, error) {
	s, err := scanScout(database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+scoutColumns+` FROM scouts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("scouts.GetByID", err)
	}
	return s, nil
}

// GetByUID matches uid case-insensitively.
func (r *Repository) GetByUID(ctx context.Context, uid string) (*models.ScoutRecord, error) {
	s, err := scanScout(database.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+scoutColumns+` FROM scouts WHERE UPPER(uid) = UPPER($1)`, uid))
	if err != nil {
		return nil, notFound("scouts.GetByUID", err)
	}
	return s, nil
}

// FirstByEmail returns the oldest record with the given e-mail.
func (r *Repository) FirstByEmail(ctx context.Context, email string) (*models.ScoutRecord, error) {
	const q = `SELECT ` + scoutColumns + ` FROM scouts WHERE LOWER(email) = LOWER($1) ORDER BY created_at, id LIMIT 1`
	s, err := scanScout(database.Conn(ctx, r.pool).QueryRow(ctx, q, email))
	if err != nil {
		return nil, notFound("scouts.FirstByEmail", err)
	}
	return s, nil
}

// List returns records inside f.Scope, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.ScoutRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !addScope(f.Scope, add) {
		return []models.ScoutRecord{}, nil
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	q := `SELECT ` + scoutColumns + ` FROM scouts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list scouts: %w", err)
	}
	defer rows.Close()
	list := []models.ScoutRecord{}
	for rows.Next() {
		s, err := scanScout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// UpdateProfile writes the editable fields. membership_years never moves backwards.
func (r *Repository) UpdateProfile(ctx context.Context, s *models.ScoutRecord) error {
	const q = `UPDATE scouts SET name = $2, email = $3, school_id = $4, unit_id = $5, address = $6, contact_no = $7,
		guardian_name = $8, membership_years = GREATEST(membership_years, $9), updated_at = NOW()
		WHERE id = $1
		RETURNING membership_years, updated_at`
	err := database.Conn(ctx, r.pool).QueryRow(ctx, q, s.ID, s.Name, s.Email, s.SchoolID, s.UnitID, s.Address, s.ContactNo,
		s.GuardianName, s.MembershipYears).Scan(&s.MembershipYears, &s.UpdatedAt)
	if err != nil {
		return notFound("scouts.UpdateProfile", err)
	}
	return nil
}

// Transition moves a record from one status to another only if it is still in
// from, adding yearsDelta to membership_years.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to models.MembershipStatus, yearsDelta int) (*models.ScoutRecord, error) {
	const op = "scouts.Transition"
	q := `UPDATE scouts SET status = $3, membership_years = membership_years + $4, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + scoutColumns
	conn := database.Conn(ctx, r.pool)
	s, err := scanScout(conn.QueryRow(ctx, q, id, from, to, yearsDelta))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var current models.MembershipStatus
	if err := conn.QueryRow(ctx, `SELECT status FROM scouts WHERE id = $1`, id).Scan(&current); err != nil {
		return nil, notFound(op, err)
	}
	return nil, apperr.IllegalTransition(op, fmt.Sprintf("membership is %s, not %s", current, from))
}

// Delete removes a scout record.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := database.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM scouts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("scouts.Delete", "scout record not found")
	}
	return nil
}

// CountByStatus groups the records inside scope by status.
func (r *Repository) CountByStatus(ctx context.Context, scope access.Scope) ([]models.StatusCount, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !addScope(scope, add) {
		return []models.StatusCount{}, nil
	}
	q := `SELECT status, COUNT(*), COALESCE(SUM(membership_years), 0) FROM scouts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " GROUP BY status ORDER BY status"

	rows, err := database.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("count scouts: %w", err)
	}
	defer rows.Close()
	counts := []models.StatusCount{}
	for rows.Next() {
		var c models.StatusCount
		if err := rows.Scan(&c.Status, &c.Count, &c.Years); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// addScope narrows a query to scope; false means nothing is in scope.
func addScope(scope access.Scope, add func(cond string, v any)) bool {
	switch {
	case scope.All:
	case scope.SchoolID != nil:
		add("school_id = $%d", *scope.SchoolID)
	case scope.UnitID != nil:
		add("unit_id = $%d", *scope.UnitID)
	default:
		return false
	}
	return true
}
