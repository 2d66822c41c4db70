package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"homehub/auth"
)

const (
	writeWait         = 10 * time.Second
	defaultSendBuffer = 256

	// Application close codes sent after the upgrade.
	CloseTokenRequired = 4401
	CloseInvalidToken  = 4403
)

// Message types exchanged with viewers.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeJoined      = "joined"
	TypeLeft        = "left"
	TypeError       = "error"
	TypeDeviceState = "device_state"
)

// Socket is the part of *websocket.Conn a Client uses.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type inboundMessage struct {
	Type     string `json:"type"`
	HomeID   string `json:"homeId"`
	TenantID string `json:"tenantId"`
}

type controlMessage struct {
	Type    string `json:"type"`
	HomeID  string `json:"homeId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is one live viewer connection.
type Client struct {
	id        string
	hub       *Hub
	socket    Socket
	principal auth.Principal
	logger    *logrus.Entry

	send  chan []byte
	alive atomic.Bool

	// home is guarded by hub.mu
	home string

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewClient wraps socket. The client is alive until a sweep finds otherwise.
func NewClient(hub *Hub, socket Socket, principal auth.Principal, sendBuffer int, logger *logrus.Entry) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	id := uuid.NewString()
	c := &Client{
		id:        id,
		hub:       hub,
		socket:    socket,
		principal: principal,
		logger:    logger.WithFields(logrus.Fields{"client_id": id, "user_id": principal.UserID}),
		send:      make(chan []byte, sendBuffer),
	}
	c.alive.Store(true)
	return c
}

func (c *Client) ID() string { return c.id }

// IsOpen reports whether the connection has not been closed yet.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Run serves the connection until it closes. maxMessageSize bounds inbound
// frames.
func (c *Client) Run(maxMessageSize int64) {
	go c.writePump()
	c.readPump(maxMessageSize)
}

// Join moves the client into homeID's room if its principal may see it.
func (c *Client) Join(homeID string) bool {
	if !c.principal.CanAccessHome(homeID) {
		c.logger.WithField("home_id", homeID).Warn("join refused")
		c.sendJSON(controlMessage{Type: TypeError, HomeID: homeID, Message: "access to home denied"})
		return false
	}
	c.hub.Join(homeID, c)
	c.sendJSON(controlMessage{Type: TypeJoined, HomeID: homeID})
	return true
}

// Close sends a close frame and releases the connection.
func (c *Client) Close(code int, reason string) {
	c.shutdown(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	})
}

func (c *Client) terminate() {
	c.shutdown(nil)
}

// shutdown leaves the hub before the socket is released.
func (c *Client) shutdown(beforeClose func()) {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		if beforeClose != nil {
			beforeClose()
		}
		_ = c.socket.Close()
	})
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("send buffer full, dropping message")
		return false
	}
}

func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Error("failed to marshal message")
		return
	}
	c.trySend(data)
}

func (c *Client) ping() {
	if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		c.logger.WithError(err).Debug("ping failed")
	}
}

func (c *Client) readPump(maxMessageSize int64) {
	defer c.terminate()

	if maxMessageSize > 0 {
		c.socket.SetReadLimit(maxMessageSize)
	}
	c.socket.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("realtime read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.WithError(err).Debug("realtime write failed")
			c.terminate()
			return
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.WithError(err).Debug("invalid realtime message")
		c.sendJSON(controlMessage{Type: TypeError, Message: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case TypeJoin:
		home := msg.HomeID
		if home == "" {
			home = msg.TenantID
		}
		if home == "" {
			c.sendJSON(controlMessage{Type: TypeError, Message: "homeId required"})
			return
		}
		c.Join(home)
	case TypeLeave:
		if home := c.hub.HomeOf(c); home != "" {
			c.hub.Leave(home, c)
			c.sendJSON(controlMessage{Type: TypeLeft, HomeID: home})
		}
	default:
		c.sendJSON(controlMessage{Type: TypeError, Message: "unknown message type: " + msg.Type})
	}
}
