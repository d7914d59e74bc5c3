// Package realtime streams committed audit entries to connected admin
// consoles over WebSocket. With Redis configured every API instance publishes
// to one channel and each hub delivers to its own connections.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/scouthub/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	// EventAuditEntry carries one models.AuditEntry.
	EventAuditEntry = "audit_entry"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Bus relays feed messages between API instances.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(handler func(payload []byte)) (cancel func(), err error)
}

// Hub maintains the set of feed connections on this instance.
type Hub struct {
	clients map[string]*Client
	cancel  func() // stops the bus subscription
	mu      sync.RWMutex
	bus     Bus
	logger  *zap.Logger
}

// NewHub creates a hub. bus may be nil for a single instance.
func NewHub(logger *zap.Logger, bus Bus) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		bus:     bus,
		logger:  logger,
	}
}

// Register adds a client and starts the bus subscription if there is none.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.subscribeLocked()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("audit feed client joined", zap.String("client_id", c.ID), zap.String("actor_id", c.ActorID.String()))
}

// Unregister removes a client and closes its send queue. The last client
// stops the bus subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.logger.Debug("audit feed client left", zap.String("client_id", c.ID))
}

// subscribeLocked subscribes to the bus unless already subscribed. A failed
// attempt is retried by the next Register.
func (h *Hub) subscribeLocked() {
	if h.bus == nil || h.cancel != nil {
		return
	}
	cancel, err := h.bus.Subscribe(h.broadcast)
	if err != nil {
		h.logger.Warn("audit feed subscribe failed, delivering locally", zap.Error(err))
		return
	}
	h.cancel = cancel
}

func (h *Hub) subscribed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancel != nil
}

// broadcast delivers an encoded message to local clients. Slow clients drop messages.
func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("audit feed client buffer full", zap.String("client_id", c.ID))
		}
	}
}

// PublishAudit implements audit.Publisher. With a bus the message goes out
// once through it and every subscribed hub delivers it on receipt. An
// unsubscribed hub delivers its own entries locally.
func (h *Hub) PublishAudit(ctx context.Context, e models.AuditEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	payload, err := json.Marshal(WSMessage{Event: EventAuditEntry, Data: data})
	if err != nil {
		return
	}
	if h.bus != nil {
		err := h.bus.Publish(ctx, payload)
		if err == nil && h.subscribed() {
			return
		}
		if err != nil {
			h.logger.Warn("audit feed publish failed, delivering locally", zap.String("audit_id", e.ID.String()), zap.Error(err))
		}
	}
	h.broadcast(payload)
}

// ClientCount returns the number of connections on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
