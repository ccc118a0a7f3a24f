package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flowcrm/backend/internal/security"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// TokenValidator resolves an access token to the caller's identity.
type TokenValidator interface {
	ValidateAccess(token string) (security.Identity, error)
}

type handler struct {
	hub      *Hub
	tokens   TokenValidator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns the realtime HTTP router: GET /ws upgrades an authenticated client,
// GET /healthz answers liveness probes. Connection attempts are rate limited per IP.
func NewHandler(hub *Hub, tokens TokenValidator, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{
		hub:    hub,
		tokens: tokens,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browsers connect from the app origin; the token is the authorization.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.With(httprate.LimitByIP(60, time.Minute)).Get("/ws", h.serveWS)
	return r
}

func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	// Browsers cannot set headers on websocket requests.
	return r.URL.Query().Get("access_token")
}

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	id, err := h.tokens.ValidateAccess(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s := h.hub.register(UserChannel(id.UserID), TenantChannel(id.OrgID))
	log := h.logger.With(zap.String("user_id", id.UserID), zap.String("org_id", id.OrgID))
	log.Debug("realtime session opened")

	hello, _ := json.Marshal(Message{Event: EventConnected, Data: map[string]string{"userId": id.UserID}})
	s.send <- hello

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, s, done)

	h.hub.unregister(s)
	_ = conn.Close()
	log.Debug("realtime session closed")
}

// readPump discards client frames and keeps the pong deadline fresh. It closes done when the peer goes away.
func (h *handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *handler) writePump(conn *websocket.Conn, s *session, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case frame := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
