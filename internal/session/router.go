package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/protocol"
)

// ErrClientGone is returned when the target client is no longer registered.
var ErrClientGone = errors.New("client not connected")

// Router delivers messages to one client, to a session, or to its Directors.
// Recipients are snapshotted under the registry lock; delivery happens
// outside it and a failed send never aborts the rest of a fan-out.
type Router struct {
	reg    *Registry
	logger *slog.Logger
}

// NewRouter creates a router over reg.
func NewRouter(reg *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{reg: reg, logger: logger}
}

// SendTo delivers msg to a single client.
func (r *Router) SendTo(id domain.ClientID, msg protocol.Message) error {
	sink, ok := r.reg.sinkFor(id)
	if !ok {
		r.logger.Debug("[ROUTE] Client gone, dropping message", "client_id", id, "type", msg.Type)
		return ErrClientGone
	}
	if err := sink.Deliver(msg); err != nil {
		r.logger.Warn("[ROUTE] Delivery failed", "client_id", id, "type", msg.Type, "error", err)
		return err
	}
	return nil
}

// SendToDM delivers msg to every Director of the session and returns how
// many deliveries succeeded.
func (r *Router) SendToDM(sid domain.SessionID, msg protocol.Message) int {
	return r.fanOut(sid, msg, func(c *Connection) bool { return c.Role == domain.RoleDirector })
}

// BroadcastExcept delivers msg to every session member except one client.
func (r *Router) BroadcastExcept(sid domain.SessionID, msg protocol.Message, exclude domain.ClientID) int {
	return r.fanOut(sid, msg, func(c *Connection) bool { return c.ID != exclude })
}

// BroadcastAll delivers msg to every session member.
func (r *Router) BroadcastAll(sid domain.SessionID, msg protocol.Message) int {
	return r.fanOut(sid, msg, nil)
}

// HasDirector reports whether a Director is currently connected to the session.
func (r *Router) HasDirector(sid domain.SessionID) bool {
	return len(r.reg.recipients(sid, func(c *Connection) bool { return c.Role == domain.RoleDirector })) > 0
}

func (r *Router) fanOut(sid domain.SessionID, msg protocol.Message, keep func(*Connection) bool) int {
	targets := r.reg.recipients(sid, keep)
	delivered := 0
	for _, t := range targets {
		if err := t.sink.Deliver(msg); err != nil {
			r.logger.Warn("[BROADCAST] Delivery failed", "session_id", sid, "client_id", t.id, "type", msg.Type, "error", err)
			continue
		}
		delivered++
	}
	r.logger.Debug("[BROADCAST] Fan-out complete", "session_id", sid, "type", msg.Type, "recipients", len(targets), "delivered", delivered)
	return delivered
}

// Recorder is a Sink that keeps every delivered message in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
	err  error
}

// Deliver records msg, or returns the configured failure.
func (r *Recorder) Deliver(msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

// FailWith makes subsequent deliveries return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Messages returns a copy of everything delivered so far.
func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// OfType returns delivered messages of one type.
func (r *Recorder) OfType(typ string) []protocol.Message {
	var out []protocol.Message
	for _, m := range r.Messages() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
