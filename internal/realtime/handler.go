// Package realtime serves the bidirectional WebSocket channel between
// clients and the session engine.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/identity"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/session"
	"github.com/coder/websocket"
)

const readLimit = 64 << 10

// Dispatcher is the engine side of a connection.
type Dispatcher interface {
	Connect(userID string, sink session.Sink) domain.ClientID
	Disconnect(ctx context.Context, id domain.ClientID)
	Handle(ctx context.Context, id domain.ClientID, in protocol.Inbound)
	Reject(id domain.ClientID, err error)
}

// Config tunes the handler.
type Config struct {
	AllowedOrigin string
	IsDev         bool
	OutboxSize    int
}

// Handler upgrades requests to WebSockets and pumps frames to the engine.
type Handler struct {
	engine  Dispatcher
	decoder *protocol.Decoder
	conns   *Conns
	cfg     Config
	logger  *slog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(engine Dispatcher, decoder *protocol.Decoder, conns *Conns, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if conns == nil {
		conns = NewConns()
	}
	return &Handler{engine: engine, decoder: decoder, conns: conns, cfg: cfg, logger: logger}
}

// wsWriter adapts websocket.Conn to FrameWriter.
type wsWriter struct {
	conn *websocket.Conn
}

func (w wsWriter) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var dropOnce sync.Once
	drop := func() {
		dropOnce.Do(func() {
			_ = ws.Close(websocket.StatusPolicyViolation, "client too slow")
			cancel()
		})
	}
	outbox := NewOutbox(wsWriter{ws}, h.cfg.OutboxSize, drop, h.logger.With("user_id", userID))
	defer outbox.Close()

	id := h.engine.Connect(userID, outbox)
	h.conns.Add(id, ws)
	defer h.conns.Remove(id, ws)
	defer h.engine.Disconnect(context.WithoutCancel(ctx), id)

	h.readLoop(ctx, ws, id, userID)
	h.logger.Info("WebSocket session ended", "client_id", id, "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

// readLoop handles frames one at a time, preserving per-connection order.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, id domain.ClientID, userID string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "client_id", id, "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "client_id", id)
			}
			return
		}
		if typ != websocket.MessageText {
			h.engine.Reject(id, domain.Validation(domain.CodeInvalidMessage, "binary frames are not supported"))
			continue
		}

		in, err := h.decoder.Decode(data)
		if err != nil {
			h.engine.Reject(id, err)
			continue
		}
		h.engine.Handle(ctx, id, in)
	}
}
