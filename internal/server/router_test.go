package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/accounts"
	"github.com/scouthub/backend/internal/analytics"
	"github.com/scouthub/backend/internal/audit"
	"github.com/scouthub/backend/internal/auth"
	"github.com/scouthub/backend/internal/metrics"
	"github.com/scouthub/backend/internal/models"
	"github.com/scouthub/backend/internal/scouts"
	"github.com/scouthub/backend/internal/server"
	"github.com/scouthub/backend/internal/testutil"
	"github.com/scouthub/backend/pkg/utils"
)

const password = "correct horse"

type env struct {
	router *gin.Engine
	db     *testutil.DB
	jwt    *auth.JWTService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	db := testutil.NewDB()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	recorder := audit.NewRecorder(db.Audit(), logger, audit.WithMetrics(m))
	guard := access.NewGuard(logger, access.WithMetrics(m))
	scoutSvc := scouts.NewService(db.Scouts(), db, guard, recorder, logger, scouts.WithMetrics(m))
	accountSvc := accounts.NewService(db.Accounts(), db, guard, recorder, scoutSvc, logger, accounts.WithMetrics(m))
	jwtService := auth.NewJWTService("0123456789abcdef0123456789abcdef", 1)

	router := server.NewRouter(server.Deps{
		Logger:   logger,
		Metrics:  m,
		Gatherer: registry,
		Guard:    guard,
		Tokens:   jwtService,
		Actors:   accountSvc,
		Auth:     auth.NewHandler(accountSvc, jwtService, logger),
		Accounts: accounts.NewHandler(accountSvc, logger),
		Scouts:   scouts.NewHandler(scoutSvc, logger),
		Audit:    audit.NewHandler(recorder, nil, logger),
		Stats:    analytics.NewHandler(analytics.NewService(db.Scouts(), guard), logger),
	})
	return &env{router: router, db: db, jwt: jwtService}
}

func (e *env) account(t *testing.T, email string, role models.Role, approved bool) models.Account {
	t.Helper()
	hash, err := utils.HashPassword(password)
	require.NoError(t, err)
	return e.db.PutAccount(models.Account{Email: email, Username: email, Role: role, IsApproved: approved, PasswordHash: hash})
}

func (e *env) token(t *testing.T, a models.Account) string {
	t.Helper()
	tok, err := e.jwt.Generate(a.ID, a.Email, string(a.Role))
	require.NoError(t, err)
	return tok
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil).Code)

	w := e.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRegisterApproveLoginFlow(t *testing.T) {
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", models.RoleAdmin, true)

	w := e.do(http.MethodPost, "/auth/register", "", gin.H{
		"email": "scout@example.com", "username": "Sky", "password": password, "role": "scout",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var registered models.Account
	decode(t, w, &registered)
	assert.False(t, registered.IsApproved)

	w = e.do(http.MethodPost, "/auth/login", "", gin.H{"email": "scout@example.com", "password": password})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPost, "/auth/login", "", gin.H{"email": "scout@example.com", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var pending []models.Account
	w = e.do(http.MethodGet, "/users/pending", e.token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &pending)
	require.Len(t, pending, 1)

	w = e.do(http.MethodPost, "/users/"+registered.ID.String()+"/approve", e.token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/users/"+registered.ID.String()+"/approve", e.token(t, admin), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(http.MethodPost, "/auth/login", "", gin.H{"email": "scout@example.com", "password": password})
	require.Equal(t, http.StatusOK, w.Code)
	var tok auth.TokenResponse
	decode(t, w, &tok)
	require.NotEmpty(t, tok.Token)

	var me models.Account
	w = e.do(http.MethodGet, "/me", tok.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &me)
	assert.Equal(t, registered.ID, me.ID)

	rec, err := e.db.Scouts().FirstByEmail(context.Background(), "scout@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status)

	var lookup models.ScoutLookup
	w = e.do(http.MethodGet, "/scouts/lookup/"+rec.UID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &lookup)
	assert.Equal(t, rec.UID, lookup.UID)
	assert.NotContains(t, w.Body.String(), "scout@example.com")
}

func TestRoleGates(t *testing.T) {
	e := newEnv(t)
	unit := uuid.New()
	leader := e.account(t, "leader@example.com", models.RoleUnitLeader, true)
	leader.UnitID = &unit
	e.db.PutAccount(leader)
	target := e.account(t, "pending@example.com", models.RoleUser, false)
	rec := e.db.PutScout(models.ScoutRecord{UID: "BSP-2024-000001", Name: "Tam", Status: models.StatusExpired, UnitID: &unit})

	w := e.do(http.MethodPost, "/users/"+target.ID.String()+"/approve", e.token(t, leader), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	got, _ := e.db.Account(target.ID)
	assert.False(t, got.IsApproved)
	assert.Empty(t, e.db.AuditEntries())

	w = e.do(http.MethodGet, "/scouts", e.token(t, leader), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.ScoutRecord
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = e.do(http.MethodPost, "/scouts/"+rec.ID.String()+"/renew", e.token(t, leader), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodGet, "/audit", e.token(t, leader), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodGet, "/stats/membership", e.token(t, leader), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats analytics.Summary
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Expired)

	scout := e.account(t, "scout@example.com", models.RoleScout, true)
	w = e.do(http.MethodGet, "/stats/membership", e.token(t, scout), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthenticationRequired(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/scouts", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/scouts", "garbage", nil).Code)

	ghost := models.Account{ID: uuid.New(), Email: "ghost@example.com", Role: models.RoleAdmin}
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/me", e.token(t, ghost), nil).Code)

	pending := e.account(t, "wait@example.com", models.RoleStaff, false)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/me", e.token(t, pending), nil).Code)
}

func TestStaffRenewAndAudit(t *testing.T) {
	e := newEnv(t)
	school := uuid.New()
	staff := e.account(t, "staff@example.com", models.RoleStaff, true)
	staff.SchoolID = &school
	e.db.PutAccount(staff)
	admin := e.account(t, "admin@example.com", models.RoleAdmin, true)
	rec := e.db.PutScout(models.ScoutRecord{UID: "BSP-2024-000002", Name: "Uli", Status: models.StatusExpired, MembershipYears: 2, SchoolID: &school})

	w := e.do(http.MethodPost, "/scouts/"+rec.ID.String()+"/renew", e.token(t, staff), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out models.ScoutRecord
	decode(t, w, &out)
	assert.Equal(t, models.StatusActive, out.Status)
	assert.Equal(t, 3, out.MembershipYears)

	w = e.do(http.MethodPost, "/scouts/"+rec.ID.String()+"/renew", e.token(t, staff), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var entries []models.AuditEntry
	w = e.do(http.MethodGet, "/audit?category=update&userId="+staff.ID.String(), e.token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionRenewedMembership, entries[0].Action)

	w = e.do(http.MethodGet, "/audit?category=bogus", e.token(t, admin), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/audit/archive", e.token(t, admin), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRejectAndDeleteReturnBareSuccess(t *testing.T) {
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", models.RoleAdmin, true)
	target := e.account(t, "reject@example.com", models.RoleUser, false)
	rec := e.db.PutScout(models.ScoutRecord{UID: "BSP-2024-000009", Name: "Ola", Status: models.StatusPending})

	w := e.do(http.MethodDelete, "/users/"+target.ID.String(), e.token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	_, ok := e.db.Account(target.ID)
	assert.False(t, ok)

	w = e.do(http.MethodDelete, "/users/"+target.ID.String(), e.token(t, admin), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodDelete, "/scouts/"+rec.ID.String(), e.token(t, admin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}
