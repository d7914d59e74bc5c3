// Package testutil holds in-memory stores that behave like the Postgres
// repositories, for service and handler tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/pkg/database"
)

var (
	// ErrAuditDown is returned by audit inserts while DB.FailAuditInserts is set.
	ErrAuditDown = errors.New("audit store unavailable")
	// ErrTxAborted is returned by every statement of a unit of work after a
	// unique violation, as Postgres does until the transaction or savepoint
	// is rolled back.
	ErrTxAborted = errors.New("current transaction is aborted")
)

type txKey struct{}

// unit is one transaction or savepoint.
type unit struct{ aborted bool }

func unitFrom(ctx context.Context) *unit {
	u, _ := ctx.Value(txKey{}).(*unit)
	return u
}

// violation aborts the unit carried by ctx and returns err.
func violation(ctx context.Context, err error) error {
	if u := unitFrom(ctx); u != nil {
		u.aborted = true
	}
	return err
}

func checkUnit(ctx context.Context) error {
	if u := unitFrom(ctx); u != nil && u.aborted {
		return ErrTxAborted
	}
	return nil
}

// DB is a single in-memory database shared by the stores. WithinTx snapshots
// every table and restores the snapshot when fn fails.
type DB struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]models.Account
	scouts   map[uuid.UUID]models.ScoutRecord
	audit    []models.AuditEntry
	clock    time.Time

	// FailAuditInserts makes every audit insert fail with ErrAuditDown.
	FailAuditInserts bool
}

// NewDB returns an empty database whose clock starts at a fixed instant and
// advances one millisecond per write.
func NewDB() *DB {
	return &DB{
		accounts: map[uuid.UUID]models.Account{},
		scouts:   map[uuid.UUID]models.ScoutRecord{},
		clock:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (db *DB) tick() time.Time {
	db.clock = db.clock.Add(time.Millisecond)
	return db.clock
}

type snapshot struct {
	accounts map[uuid.UUID]models.Account
	scouts   map[uuid.UUID]models.ScoutRecord
	audit    []models.AuditEntry
}

func (db *DB) snapshot() snapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := snapshot{
		accounts: make(map[uuid.UUID]models.Account, len(db.accounts)),
		scouts:   make(map[uuid.UUID]models.ScoutRecord, len(db.scouts)),
		audit:    append([]models.AuditEntry(nil), db.audit...),
	}
	for k, v := range db.accounts {
		s.accounts[k] = v
	}
	for k, v := range db.scouts {
		s.scouts[k] = v
	}
	return s
}

func (db *DB) restore(s snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts, db.scouts, db.audit = s.accounts, s.scouts, s.audit
}

// WithinTx implements database.Transactor. Nested calls join the outer unit.
// Committing an aborted unit rolls it back and fails.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if unitFrom(ctx) != nil {
		return fn(ctx)
	}
	snap := db.snapshot()
	ctx, fire := database.WithCommitHooks(ctx)
	u := &unit{}
	err := fn(context.WithValue(ctx, txKey{}, u))
	if err == nil && u.aborted {
		err = ErrTxAborted
	}
	if err != nil {
		db.restore(snap)
		return err
	}
	fire()
	return nil
}

// WithinSavepoint implements database.Transactor. A failed fn restores the
// state at the savepoint and leaves the enclosing unit usable.
func (db *DB) WithinSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	outer := unitFrom(ctx)
	if outer == nil {
		return db.WithinTx(ctx, fn)
	}
	if outer.aborted {
		return ErrTxAborted
	}
	snap := db.snapshot()
	sp := &unit{}
	err := fn(context.WithValue(ctx, txKey{}, sp))
	if err == nil && sp.aborted {
		err = ErrTxAborted
	}
	if err != nil {
		db.restore(snap)
	}
	return err
}

// AuditEntries returns a copy of the trail in insertion order.
func (db *DB) AuditEntries() []models.AuditEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.AuditEntry(nil), db.audit...)
}

// Accounts returns the account store.
func (db *DB) Accounts() *AccountStore { return &AccountStore{db: db} }

// Scouts returns the scout record store.
func (db *DB) Scouts() *ScoutStore { return &ScoutStore{db: db} }

// Audit returns the audit store.
func (db *DB) Audit() *AuditStore { return &AuditStore{db: db} }

// PutAccount stores a fixture as is, assigning an ID when empty.
func (db *DB) PutAccount(a models.Account) models.Account {
	db.mu.Lock()
	defer db.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = db.tick()
		a.UpdatedAt = a.CreatedAt
	}
	db.accounts[a.ID] = a
	return a
}

// PutScout stores a fixture as is, assigning an ID when empty.
func (db *DB) PutScout(s models.ScoutRecord) models.ScoutRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = db.tick()
		s.UpdatedAt = s.CreatedAt
	}
	db.scouts[s.ID] = s
	return s
}

// Account returns a stored account.
func (db *DB) Account(id uuid.UUID) (models.Account, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.accounts[id]
	return a, ok
}

// Scout returns a stored scout record.
func (db *DB) Scout(id uuid.UUID) (models.ScoutRecord, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.scouts[id]
	return s, ok
}

// ScoutCount returns the number of stored scout records.
func (db *DB) ScoutCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.scouts)
}

// AccountStore implements accounts.Store.
type AccountStore struct{ db *DB }

func (s *AccountStore) Create(ctx context.Context, a *models.Account) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return err
	}
	for _, existing := range s.db.accounts {
		if strings.EqualFold(existing.Email, a.Email) {
			return violation(ctx, apperr.Conflict("accounts.Create", "email already registered", nil))
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = s.db.tick()
	a.UpdatedAt = a.CreatedAt
	s.db.accounts[a.ID] = *a
	return nil
}

func (s *AccountStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	a, ok := s.db.accounts[id]
	if !ok {
		return nil, apperr.NotFound("accounts.GetByID", "account not found")
	}
	return &a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	for _, a := range s.db.accounts {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, apperr.NotFound("accounts.GetByEmail", "account not found")
}

func (s *AccountStore) ListPending(ctx context.Context) ([]models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	list := []models.Account{}
	for _, a := range s.db.accounts {
		if !a.IsApproved {
			list = append(list, a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (s *AccountStore) MarkApproved(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	a, ok := s.db.accounts[id]
	if !ok {
		return nil, apperr.NotFound("accounts.MarkApproved", "account not found")
	}
	if a.IsApproved {
		return nil, apperr.IllegalTransition("accounts.MarkApproved", "account is already approved")
	}
	a.IsApproved = true
	a.UpdatedAt = s.db.tick()
	s.db.accounts[id] = a
	return &a, nil
}

func (s *AccountStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return err
	}
	if _, ok := s.db.accounts[id]; !ok {
		return apperr.NotFound("accounts.Delete", "account not found")
	}
	delete(s.db.accounts, id)
	return nil
}

// ScoutStore implements scouts.Store.
type ScoutStore struct{ db *DB }

func (s *ScoutStore) Create(ctx context.Context, rec *models.ScoutRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return err
	}
	for _, existing := range s.db.scouts {
		if strings.EqualFold(existing.UID, rec.UID) {
			return violation(ctx, apperr.Conflict("scouts.Create", "uid already taken", nil))
		}
	}
	rec.ID = uuid.New()
	rec.CreatedAt = s.db.tick()
	rec.UpdatedAt = rec.CreatedAt
	s.db.scouts[rec.ID] = *rec
	return nil
}

func (s *ScoutStore) GetByID(ctx context.Context, id uuid.UUID) (*models.ScoutRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.db.scouts[id]
	if !ok {
		return nil, apperr.NotFound("scouts.GetByID", "scout record not found")
	}
	return &rec, nil
}

func (s *ScoutStore) GetByUID(ctx context.Context, uid string) (*models.ScoutRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	for _, rec := range s.db.scouts {
		if strings.EqualFold(rec.UID, uid) {
			return &rec, nil
		}
	}
	return nil, apperr.NotFound("scouts.GetByUID", "scout record not found")
}

func (s *ScoutStore) FirstByEmail(ctx context.Context, email string) (*models.ScoutRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	var first *models.ScoutRecord
	for _, rec := range s.db.scouts {
		if rec.Email == nil || !strings.EqualFold(*rec.Email, email) {
			continue
		}
		if first == nil || rec.CreatedAt.Before(first.CreatedAt) {
			r := rec
			first = &r
		}
	}
	if first == nil {
		return nil, apperr.NotFound("scouts.FirstByEmail", "scout record not found")
	}
	return first, nil
}

func (s *ScoutStore) List(ctx context.Context, f scouts.ListFilter) ([]models.ScoutRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	var list []models.ScoutRecord
	for _, rec := range s.db.scouts {
		if !f.Scope.Allows(rec.SchoolID, rec.UnitID) {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return page(list, f.Offset, f.Limit), nil
}

func (s *ScoutStore) CountByStatus(ctx context.Context, scope access.Scope) ([]models.StatusCount, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	byStatus := map[models.MembershipStatus]*models.StatusCount{}
	for _, rec := range s.db.scouts {
		if !scope.Allows(rec.SchoolID, rec.UnitID) {
			continue
		}
		c, ok := byStatus[rec.Status]
		if !ok {
			c = &models.StatusCount{Status: rec.Status}
			byStatus[rec.Status] = c
		}
		c.Count++
		c.Years += rec.MembershipYears
	}
	counts := make([]models.StatusCount, 0, len(byStatus))
	for _, c := range byStatus {
		counts = append(counts, *c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Status < counts[j].Status })
	return counts, nil
}

func (s *ScoutStore) UpdateProfile(ctx context.Context, rec *models.ScoutRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return err
	}
	cur, ok := s.db.scouts[rec.ID]
	if !ok {
		return apperr.NotFound("scouts.UpdateProfile", "scout record not found")
	}
	cur.Name, cur.Email = rec.Name, rec.Email
	cur.SchoolID, cur.UnitID = rec.SchoolID, rec.UnitID
	cur.Address, cur.ContactNo, cur.GuardianName = rec.Address, rec.ContactNo, rec.GuardianName
	if rec.MembershipYears > cur.MembershipYears {
		cur.MembershipYears = rec.MembershipYears
	}
	cur.UpdatedAt = s.db.tick()
	s.db.scouts[rec.ID] = cur
	rec.MembershipYears, rec.UpdatedAt = cur.MembershipYears, cur.UpdatedAt
	return nil
}

func (s *ScoutStore) Transition(ctx context.Context, id uuid.UUID, from, to models.MembershipStatus, yearsDelta int) (*models.ScoutRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	rec, ok := s.db.scouts[id]
	if !ok {
		return nil, apperr.NotFound("scouts.Transition", "scout record not found")
	}
	if rec.Status != from {
		return nil, apperr.IllegalTransition("scouts.Transition", "membership is "+string(rec.Status)+", not "+string(from))
	}
	rec.Status = to
	rec.MembershipYears += yearsDelta
	rec.UpdatedAt = s.db.tick()
	s.db.scouts[id] = rec
	return &rec, nil
}

func (s *ScoutStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return err
	}
	if _, ok := s.db.scouts[id]; !ok {
		return apperr.NotFound("scouts.Delete", "scout record not found")
	}
	delete(s.db.scouts, id)
	return nil
}

// AuditStore implements audit.Store.
type AuditStore struct{ db *DB }

func (s *AuditStore) Insert(ctx context.Context, e *models.AuditEntry) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return err
	}
	if s.db.FailAuditInserts {
		return ErrAuditDown
	}
	for _, existing := range s.db.audit {
		if existing.ID == e.ID {
			return nil
		}
	}
	s.db.audit = append(s.db.audit, *e)
	return nil
}

func (s *AuditStore) List(ctx context.Context, f audit.Filter) ([]models.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := checkUnit(ctx); err != nil {
		return nil, err
	}
	var list []models.AuditEntry
	for _, e := range s.db.audit {
		if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !e.CreatedAt.Before(*f.Until) {
			continue
		}
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return bytes.Compare(list[i].ID[:], list[j].ID[:]) > 0
	})
	return page(list, f.Offset, f.Limit), nil
}

func page[T any](list []T, offset, limit int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
