package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"homehub/internal/metrics"
)

// Hub tracks live connections and the home room each one has joined.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	logger  *logrus.Entry
}

func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a connection that has not joined a room yet.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.SetRealtimeConnections(n)
	h.logger.WithFields(logrus.Fields{"client_id": c.id, "clients": n}).Debug("realtime client connected")
}

// Unregister removes c from its room and from the hub. It reports whether
// c was still registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.leaveLocked(c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		metrics.SetRealtimeConnections(n)
		h.logger.WithFields(logrus.Fields{"client_id": c.id, "clients": n}).Debug("realtime client disconnected")
	}
	return existed
}

// Join puts c in homeID's room, leaving any room it was in before.
func (h *Hub) Join(homeID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	if c.home == homeID {
		return
	}
	h.leaveLocked(c)

	room, ok := h.rooms[homeID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[homeID] = room
	}
	room[c] = struct{}{}
	c.home = homeID
}

// Leave removes c from homeID's room if it is there.
func (h *Hub) Leave(homeID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.home == homeID {
		h.leaveLocked(c)
	}
}

func (h *Hub) leaveLocked(c *Client) {
	if c.home == "" {
		return
	}
	if room, ok := h.rooms[c.home]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.home)
		}
	}
	c.home = ""
}

// HomeOf returns the room c is in, "" when none.
func (h *Hub) HomeOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.home
}

// Broadcast sends payload to every open connection in homeID's room and
// returns how many it was queued for. Closed connections are skipped, not
// removed.
func (h *Hub) Broadcast(homeID string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal broadcast message")
		return 0
	}

	h.mu.RLock()
	room := h.rooms[homeID]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.trySend(data) {
			sent++
		}
	}
	metrics.AddBroadcastDeliveries(sent)
	return sent
}

// Sweep terminates connections that have not answered since the previous
// sweep and pings the rest. It returns how many were terminated.
func (h *Hub) Sweep() int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	terminated := 0
	for _, c := range clients {
		if !c.alive.Load() {
			c.terminate()
			terminated++
			continue
		}
		c.alive.Store(false)
		c.ping()
	}

	metrics.AddSweepTerminations(terminated)
	if terminated > 0 {
		h.logger.WithField("terminated", terminated).Info("realtime liveness sweep")
	}
	return terminated
}

// RoomSize returns the number of connections in homeID's room.
func (h *Hub) RoomSize(homeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[homeID])
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close terminates every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.terminate()
	}
}
