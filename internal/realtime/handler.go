package realtime

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"homehub/auth"
)

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Handler upgrades viewer connections. Authentication failures are reported
// with a close frame after the upgrade so browsers can read the code.
type Handler struct {
	hub            *Hub
	verifier       TokenVerifier
	upgrader       websocket.Upgrader
	sendBuffer     int
	maxMessageSize int64
	logger         *logrus.Entry
}

func NewHandler(hub *Hub, verifier TokenVerifier, sendBuffer int, maxMessageSize int64, logger *logrus.Entry) *Handler {
	return &Handler{
		hub:            hub,
		verifier:       verifier,
		sendBuffer:     sendBuffer,
		maxMessageSize: maxMessageSize,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	query := r.URL.Query()
	principal, err := h.verifier.Verify(query.Get("token"))
	if err != nil {
		code, reason := CloseInvalidToken, "invalid token"
		if errors.Is(err, auth.ErrMissingToken) {
			code, reason = CloseTokenRequired, "token required"
		}
		h.logger.WithError(err).Debug("realtime connection rejected")
		rejected := NewClient(h.hub, conn, auth.Principal{}, 1, h.logger)
		rejected.Close(code, reason)
		return
	}

	c := NewClient(h.hub, conn, principal, h.sendBuffer, h.logger)
	h.hub.Register(c)
	if home := query.Get("homeId"); home != "" {
		c.Join(home)
	}
	go c.Run(h.maxMessageSize)
}
