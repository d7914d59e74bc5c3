package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/access"
	"github.com/scouthub/backend/internal/models"
)

// memBus is an in-process Bus.
type memBus struct {
	mu        sync.Mutex
	handlers  map[int]func([]byte)
	next      int
	published int
	err       error
	subErr    error
}

func newMemBus() *memBus { return &memBus{handlers: map[int]func([]byte){}} }

func (b *memBus) Publish(_ context.Context, payload []byte) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	b.published++
	handlers := make([]func([]byte), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (b *memBus) Subscribe(handler func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	id := b.next
	b.next++
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}, nil
}

func (b *memBus) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

func testClient(h *Hub) *Client {
	return &Client{ID: uuid.NewString(), ActorID: uuid.New(), hub: h, send: make(chan []byte, 4)}
}

func entry(action string) models.AuditEntry {
	return models.AuditEntry{ID: uuid.New(), Action: action, Category: models.CategoryUpdate, CreatedAt: time.Now().UTC()}
}

func decodeEntry(t *testing.T, payload []byte) models.AuditEntry {
	t.Helper()
	var msg WSMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, EventAuditEntry, msg.Event)
	var e models.AuditEntry
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	return e
}

func TestHubDeliversLocally(t *testing.T) {
	h := NewHub(zap.NewNop(), nil)
	c := testClient(h)
	h.Register(c)
	assert.Equal(t, 1, h.ClientCount())

	e := entry(models.ActionApprovedUser)
	h.PublishAudit(context.Background(), e)
	assert.Equal(t, e.ID, decodeEntry(t, <-c.send).ID)

	h.Unregister(c)
	assert.Zero(t, h.ClientCount())
	_, open := <-c.send
	assert.False(t, open)
}

func TestHubFansOutAcrossInstances(t *testing.T) {
	bus := newMemBus()
	a, b := NewHub(zap.NewNop(), bus), NewHub(zap.NewNop(), bus)
	ca, cb := testClient(a), testClient(b)
	a.Register(ca)
	b.Register(cb)
	assert.Equal(t, 2, bus.subscribers())

	e := entry(models.ActionRenewedMembership)
	a.PublishAudit(context.Background(), e)
	assert.Equal(t, 1, bus.published)
	assert.Equal(t, e.ID, decodeEntry(t, <-ca.send).ID)
	assert.Equal(t, e.ID, decodeEntry(t, <-cb.send).ID)
	assert.Empty(t, ca.send)

	a.Unregister(ca)
	assert.Equal(t, 1, bus.subscribers())
}

func TestHubFallsBackWhenBusFails(t *testing.T) {
	bus := newMemBus()
	h := NewHub(zap.NewNop(), bus)
	c := testClient(h)
	h.Register(c)
	bus.err = errors.New("redis down")

	h.PublishAudit(context.Background(), entry(models.ActionDeletedScout))
	assert.Len(t, c.send, 1)
}

func TestHubRetriesFailedSubscription(t *testing.T) {
	bus := newMemBus()
	bus.subErr = errors.New("redis down")
	h := NewHub(zap.NewNop(), bus)
	first := testClient(h)
	h.Register(first)
	assert.Zero(t, bus.subscribers())

	e := entry(models.ActionExpiredMembership)
	h.PublishAudit(context.Background(), e)
	assert.Equal(t, 1, bus.published)
	require.Len(t, first.send, 1)
	assert.Equal(t, e.ID, decodeEntry(t, <-first.send).ID)

	bus.mu.Lock()
	bus.subErr = nil
	bus.mu.Unlock()
	second := testClient(h)
	h.Register(second)
	assert.Equal(t, 1, bus.subscribers())

	h.PublishAudit(context.Background(), entry(models.ActionRenewedMembership))
	assert.Len(t, first.send, 1)
	assert.Len(t, second.send, 1)
}

func TestHubDropsForFullClient(t *testing.T) {
	h := NewHub(zap.NewNop(), nil)
	c := &Client{ID: "slow", hub: h, send: make(chan []byte, 1)}
	h.Register(c)

	h.PublishAudit(context.Background(), entry("one"))
	h.PublishAudit(context.Background(), entry("two"))
	assert.Equal(t, "one", decodeEntry(t, <-c.send).Action)
}

func TestServeAuditFeed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(zap.NewNop(), nil)
	admin := &access.Actor{ID: uuid.New(), Role: models.RoleAdmin}
	staff := &access.Actor{ID: uuid.New(), Role: models.RoleStaff}
	authenticate := func(_ context.Context, token string) (*access.Actor, error) {
		switch token {
		case "admin":
			return admin, nil
		case "staff":
			return staff, nil
		}
		return nil, errors.New("bad token")
	}
	router := gin.New()
	router.GET("/audit/stream", ServeAuditFeed(h, authenticate, access.NewGuard(nil), nil))
	srv := httptest.NewServer(router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/audit/stream"

	for token, status := range map[string]int{"": 401, "nope": 401, "staff": 403} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		require.Error(t, err, token)
		require.NotNil(t, resp, token)
		assert.Equal(t, status, resp.StatusCode, token)
		resp.Body.Close()
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=admin", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	e := entry(models.ActionApprovedUser)
	h.PublishAudit(context.Background(), e)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, e.ID, decodeEntry(t, payload).ID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
