package scouts_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/apperr"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/internal/testutil"
)

func newService(t *testing.T, opts ...scouts.Option) (*scouts.Service, *testutil.DB) {
	t.Helper()
	db := testutil.NewDB()
	recorder := audit.NewRecorder(db.Audit(), zap.NewNop())
	svc := scouts.NewService(db.Scouts(), db, access.NewGuard(zap.NewNop()), recorder, zap.NewNop(), opts...)
	return svc, db
}

func ptr[T any](v T) *T { return &v }

var (
	admin = &access.Actor{ID: uuid.New(), Role: models.RoleAdmin, IP: "10.0.0.1"}
	ctx   = context.Background()
)

func TestRegisterCreatesPendingRecord(t *testing.T) {
	svc, db := newService(t, scouts.WithUIDPrefix("TST"))

	rec, err := svc.Register(ctx, scouts.RegisterInput{Name: "  Ana Cruz ", Email: "Ana@Example.com", IPAddress: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, "Ana Cruz", rec.Name)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.MembershipYears)
	assert.Regexp(t, `^TST-\d{4}-\d{6}$`, rec.UID)
	require.NotNil(t, rec.Email)
	assert.Equal(t, "ana@example.com", *rec.Email)

	entries := db.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionRegisteredScout, entries[0].Action)
	assert.Equal(t, models.CategoryCreate, entries[0].Category)
	assert.Nil(t, entries[0].UserID)
}

func TestRegisterValidation(t *testing.T) {
	svc, db := newService(t)

	_, err := svc.Register(ctx, scouts.RegisterInput{Name: "   "})
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.Register(ctx, scouts.RegisterInput{Name: "Ben", Email: "not-an-email"})
	assert.True(t, apperr.IsValidation(err))
	assert.Zero(t, db.ScoutCount())
	assert.Empty(t, db.AuditEntries())
}

func TestRegisterRetriesUIDCollision(t *testing.T) {
	uids := []string{"BSP-2024-000001", "BSP-2024-000001", "BSP-2024-000002"}
	calls := 0
	gen := func(string, int) (string, error) {
		uid := uids[calls]
		calls++
		return uid, nil
	}
	svc, _ := newService(t, scouts.WithUIDGenerator(gen))

	first, err := svc.Register(ctx, scouts.RegisterInput{Name: "One"})
	require.NoError(t, err)
	second, err := svc.Register(ctx, scouts.RegisterInput{Name: "Two"})
	require.NoError(t, err)
	assert.Equal(t, "BSP-2024-000001", first.UID)
	assert.Equal(t, "BSP-2024-000002", second.UID)
	assert.Equal(t, 3, calls)
}

func TestRegisterRetriesUIDCollisionInsideTransaction(t *testing.T) {
	uids := []string{"BSP-2024-000001", "BSP-2024-000001", "BSP-2024-000002"}
	calls := 0
	gen := func(string, int) (string, error) {
		uid := uids[calls]
		calls++
		return uid, nil
	}
	svc, db := newService(t, scouts.WithUIDGenerator(gen))
	_, err := svc.Register(ctx, scouts.RegisterInput{Name: "One"})
	require.NoError(t, err)

	// Account registration creates the scout inside its own unit of work.
	var second *models.ScoutRecord
	err = db.WithinTx(ctx, func(ctx context.Context) error {
		rec, err := svc.Register(ctx, scouts.RegisterInput{Name: "Two"})
		second = rec
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "BSP-2024-000002", second.UID)
	assert.Equal(t, 2, db.ScoutCount())
	assert.Len(t, db.AuditEntries(), 2)
}

func TestRenewAndExpire(t *testing.T) {
	svc, db := newService(t)
	rec := db.PutScout(models.ScoutRecord{UID: "BSP-2023-000123", Name: "Cara", Status: models.StatusExpired, MembershipYears: 2})

	renewed, err := svc.Renew(ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, renewed.Status)
	assert.Equal(t, 3, renewed.MembershipYears)

	_, err = svc.Renew(ctx, admin, rec.ID)
	assert.True(t, apperr.IsIllegalTransition(err))

	expired, err := svc.Expire(ctx, admin, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)
	assert.Equal(t, 3, expired.MembershipYears)

	entries := db.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionRenewedMembership, entries[0].Action)
	assert.Contains(t, entries[0].Details, "membershipYears 2 -> 3")
	assert.Equal(t, models.ActionExpiredMembership, entries[1].Action)
	require.NotNil(t, entries[1].UserID)
	assert.Equal(t, admin.ID, *entries[1].UserID)
	require.NotNil(t, entries[1].IPAddress)
	assert.Equal(t, "10.0.0.1", *entries[1].IPAddress)
}

func TestRenewPendingIsIllegal(t *testing.T) {
	svc, db := newService(t)
	rec := db.PutScout(models.ScoutRecord{UID: "BSP-2024-000001", Name: "Dee", Status: models.StatusPending})

	_, err := svc.Renew(ctx, admin, rec.ID)
	assert.True(t, apperr.IsIllegalTransition(err))
	_, err = svc.Expire(ctx, admin, rec.ID)
	assert.True(t, apperr.IsIllegalTransition(err))
	assert.Empty(t, db.AuditEntries())
}

func TestTransitionRollsBackWhenAuditFails(t *testing.T) {
	svc, db := newService(t)
	rec := db.PutScout(models.ScoutRecord{UID: "BSP-2024-000001", Name: "Eli", Status: models.StatusExpired, MembershipYears: 1})
	db.FailAuditInserts = true

	_, err := svc.Renew(ctx, admin, rec.ID)
	require.ErrorIs(t, err, testutil.ErrAuditDown)

	got, _ := db.Scout(rec.ID)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Equal(t, 1, got.MembershipYears)
}

func TestLookupByUIDIgnoresCase(t *testing.T) {
	svc, db := newService(t)
	db.PutScout(models.ScoutRecord{UID: "BSP-2024-000777", Name: "Fay", Status: models.StatusActive, Address: "secret", Email: ptr("fay@example.com")})

	view, err := svc.LookupByUID(ctx, "bsp-2024-000777")
	require.NoError(t, err)
	assert.Equal(t, "BSP-2024-000777", view.UID)
	assert.Equal(t, "Fay", view.Name)
	assert.Equal(t, models.StatusActive, view.Status)

	_, err = svc.LookupByUID(ctx, "BSP-2024-999999")
	assert.True(t, apperr.IsNotFound(err))
	_, err = svc.LookupByUID(ctx, " ")
	assert.True(t, apperr.IsValidation(err))
}

func TestScopedReads(t *testing.T) {
	svc, db := newService(t)
	schoolA, schoolB := uuid.New(), uuid.New()
	unitA := uuid.New()
	inA := db.PutScout(models.ScoutRecord{UID: "A-1", Name: "In A", Status: models.StatusActive, SchoolID: &schoolA, UnitID: &unitA})
	inB := db.PutScout(models.ScoutRecord{UID: "B-1", Name: "In B", Status: models.StatusActive, SchoolID: &schoolB})

	staff := &access.Actor{ID: uuid.New(), Role: models.RoleStaff, SchoolID: &schoolA}
	leader := &access.Actor{ID: uuid.New(), Role: models.RoleUnitLeader, UnitID: &unitA}
	unscoped := &access.Actor{ID: uuid.New(), Role: models.RoleStaff}

	list, err := svc.List(ctx, staff, scouts.ListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, inA.ID, list[0].ID)

	list, err = svc.List(ctx, leader, scouts.ListQuery{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = svc.List(ctx, unscoped, scouts.ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = svc.List(ctx, admin, scouts.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.Get(ctx, staff, inB.ID)
	assert.True(t, apperr.IsNotFound(err))

	_, err = svc.List(ctx, &access.Actor{ID: uuid.New(), Role: models.RoleScout}, scouts.ListQuery{})
	assert.True(t, apperr.IsAuthorization(err))
}

func TestOutOfScopeMutationIsUnauthorized(t *testing.T) {
	svc, db := newService(t)
	schoolA, schoolB := uuid.New(), uuid.New()
	rec := db.PutScout(models.ScoutRecord{UID: "B-1", Name: "In B", Status: models.StatusActive, SchoolID: &schoolB})
	staff := &access.Actor{ID: uuid.New(), Role: models.RoleStaff, SchoolID: &schoolA}

	_, err := svc.Expire(ctx, staff, rec.ID)
	assert.True(t, apperr.IsAuthorization(err))
	_, err = svc.Update(ctx, staff, rec.ID, scouts.UpdateInput{Name: ptr("x")})
	assert.True(t, apperr.IsAuthorization(err))

	got, _ := db.Scout(rec.ID)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Empty(t, db.AuditEntries())
}

func TestUnitLeaderCannotMutate(t *testing.T) {
	svc, db := newService(t)
	unit := uuid.New()
	rec := db.PutScout(models.ScoutRecord{UID: "U-1", Name: "Gus", Status: models.StatusExpired, UnitID: &unit})
	leader := &access.Actor{ID: uuid.New(), Role: models.RoleUnitLeader, UnitID: &unit}

	_, err := svc.Renew(ctx, leader, rec.ID)
	assert.True(t, apperr.IsAuthorization(err))
	assert.Empty(t, db.AuditEntries())
}

func TestUpdateRules(t *testing.T) {
	tests := []struct {
		name    string
		start   models.ScoutRecord
		in      scouts.UpdateInput
		check   func(t *testing.T, err error)
		status  models.MembershipStatus
		years   int
		entries int
	}{
		{
			name:    "profile edit",
			start:   models.ScoutRecord{Status: models.StatusActive, MembershipYears: 1},
			in:      scouts.UpdateInput{Name: ptr("New Name"), ContactNo: ptr("0917")},
			check:   func(t *testing.T, err error) { assert.NoError(t, err) },
			status:  models.StatusActive,
			years:   1,
			entries: 1,
		},
		{
			name:    "renew via status",
			start:   models.ScoutRecord{Status: models.StatusExpired, MembershipYears: 2},
			in:      scouts.UpdateInput{Status: ptr(models.StatusActive)},
			check:   func(t *testing.T, err error) { assert.NoError(t, err) },
			status:  models.StatusActive,
			years:   3,
			entries: 1,
		},
		{
			name:    "pending to active refused",
			start:   models.ScoutRecord{Status: models.StatusPending},
			in:      scouts.UpdateInput{Status: ptr(models.StatusActive)},
			check:   func(t *testing.T, err error) { assert.True(t, apperr.IsIllegalTransition(err)) },
			status:  models.StatusPending,
			years:   0,
			entries: 0,
		},
		{
			name:   "status and years together refused",
			start:  models.ScoutRecord{Status: models.StatusExpired, MembershipYears: 2},
			in:     scouts.UpdateInput{Status: ptr(models.StatusActive), MembershipYears: ptr(5)},
			check:  func(t *testing.T, err error) { assert.True(t, apperr.IsValidation(err)) },
			status: models.StatusExpired,
			years:  2,
		},
		{
			name:   "years cannot decrease",
			start:  models.ScoutRecord{Status: models.StatusActive, MembershipYears: 4},
			in:     scouts.UpdateInput{MembershipYears: ptr(3)},
			check:  func(t *testing.T, err error) { assert.True(t, apperr.IsValidation(err)) },
			status: models.StatusActive,
			years:  4,
		},
		{
			name:    "years may increase",
			start:   models.ScoutRecord{Status: models.StatusActive, MembershipYears: 4},
			in:      scouts.UpdateInput{MembershipYears: ptr(6)},
			check:   func(t *testing.T, err error) { assert.NoError(t, err) },
			status:  models.StatusActive,
			years:   6,
			entries: 1,
		},
		{
			name:   "empty update refused",
			start:  models.ScoutRecord{Status: models.StatusActive},
			in:     scouts.UpdateInput{},
			check:  func(t *testing.T, err error) { assert.True(t, apperr.IsValidation(err)) },
			status: models.StatusActive,
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newService(t)
			tt.start.UID = fmt.Sprintf("BSP-2024-%06d", i)
			tt.start.Name = "Scout"
			rec := db.PutScout(tt.start)

			_, err := svc.Update(ctx, admin, rec.ID, tt.in)
			tt.check(t, err)

			got, _ := db.Scout(rec.ID)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.years, got.MembershipYears)
			assert.Len(t, db.AuditEntries(), tt.entries)
		})
	}
}

func TestActivateFromApproval(t *testing.T) {
	svc, db := newService(t)
	rec := db.PutScout(models.ScoutRecord{UID: "BSP-2024-000001", Name: "Hal", Status: models.StatusPending})

	out, err := svc.ActivateFromApproval(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, out.Status)
	assert.Empty(t, db.AuditEntries())

	_, err = svc.ActivateFromApproval(ctx, rec.ID)
	assert.True(t, apperr.IsIllegalTransition(err))
}

func TestFindByEmailReturnsOldest(t *testing.T) {
	svc, db := newService(t)
	oldest := db.PutScout(models.ScoutRecord{UID: "A", Name: "First", Email: ptr("dup@example.com"), Status: models.StatusPending})
	db.PutScout(models.ScoutRecord{UID: "B", Name: "Second", Email: ptr("dup@example.com"), Status: models.StatusPending})

	rec, err := svc.FindByEmail(ctx, "DUP@example.com")
	require.NoError(t, err)
	assert.Equal(t, oldest.ID, rec.ID)
}

func TestDeleteIsAdminOnly(t *testing.T) {
	svc, db := newService(t)
	school := uuid.New()
	rec := db.PutScout(models.ScoutRecord{UID: "D-1", Name: "Ivy", Status: models.StatusActive, SchoolID: &school})

	err := svc.Delete(ctx, &access.Actor{ID: uuid.New(), Role: models.RoleStaff, SchoolID: &school}, rec.ID)
	assert.True(t, apperr.IsAuthorization(err))

	require.NoError(t, svc.Delete(ctx, admin, rec.ID))
	_, ok := db.Scout(rec.ID)
	assert.False(t, ok)
	entries := db.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.CategoryDelete, entries[0].Category)

	assert.True(t, apperr.IsNotFound(svc.Delete(ctx, admin, rec.ID)))
}
