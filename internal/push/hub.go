package push

import (
	"log/slog"
	"sync"

	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
)

// Hub tracks the connections on this instance. Every connection sits in
// exactly one tenant room and is also indexed by principal.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]*Conn
	byTenant    map[string]map[string]*Conn
	byPrincipal map[string]map[string]*Conn

	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(recorder metrics.Recorder, logger *slog.Logger) *Hub {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:       make(map[string]*Conn),
		byTenant:    make(map[string]map[string]*Conn),
		byPrincipal: make(map[string]map[string]*Conn),
		metrics:     recorder,
		logger:      logger.With("component", "push.hub"),
	}
}

// Register adds a connection to its tenant room.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := c.Subscription
	h.conns[sub.ConnectionID] = c
	addIndex(h.byTenant, sub.TenantID, c)
	addIndex(h.byPrincipal, sub.PrincipalID, c)
	h.metrics.AddPushConnections(1)
}

// Unregister removes a connection. Removing an unknown connection is a no-op.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := c.Subscription
	if _, ok := h.conns[sub.ConnectionID]; !ok {
		return
	}
	delete(h.conns, sub.ConnectionID)
	removeIndex(h.byTenant, sub.TenantID, sub.ConnectionID)
	removeIndex(h.byPrincipal, sub.PrincipalID, sub.ConnectionID)
	h.metrics.AddPushConnections(-1)
}

// Deliver queues an event on every local connection it targets. It never
// blocks: a connection whose buffer is full is closed instead, so its client
// reconnects and resyncs.
func (h *Hub) Deliver(event model.Event) {
	targets := h.targets(event)
	if len(targets) == 0 {
		return
	}

	frame, err := encodeEvent(event)
	if err != nil {
		h.logger.Error("failed to encode event", "type", event.Type, "error", err)
		return
	}

	for _, c := range targets {
		reason := c.enqueue(frame)
		switch reason {
		case "":
			h.metrics.IncPushDelivered(string(event.Type))
			continue
		case metrics.DropClosed:
			// Closed but not yet unregistered by its pump.
			h.metrics.IncPushDropped(string(event.Type), reason)
			continue
		}
		h.metrics.IncPushDropped(string(event.Type), reason)
		h.logger.Warn("push dropped",
			"connection_id", c.Subscription.ConnectionID,
			"principal_id", c.Subscription.PrincipalID,
			"type", event.Type,
		)
		c.Close()
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) targets(event model.Event) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var room map[string]*Conn
	switch {
	case event.PrincipalID != "":
		room = h.byPrincipal[event.PrincipalID]
	case event.TenantID != "":
		room = h.byTenant[event.TenantID]
	}

	conns := make([]*Conn, 0, len(room))
	for _, c := range room {
		conns = append(conns, c)
	}
	return conns
}

func addIndex(index map[string]map[string]*Conn, key string, c *Conn) {
	room, ok := index[key]
	if !ok {
		room = make(map[string]*Conn)
		index[key] = room
	}
	room[c.Subscription.ConnectionID] = c
}

func removeIndex(index map[string]map[string]*Conn, key, connectionID string) {
	room := index[key]
	delete(room, connectionID)
	if len(room) == 0 {
		delete(index, key)
	}
}
