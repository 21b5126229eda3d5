package realtime

import (
	"log/slog"
	"sync"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/coder/websocket"
)

// Conns tracks open WebSocket connections so they can be closed on shutdown.
type Conns struct {
	mu     sync.RWMutex
	active map[domain.ClientID]*websocket.Conn
}

// NewConns creates an empty connection set.
func NewConns() *Conns {
	return &Conns{active: make(map[domain.ClientID]*websocket.Conn)}
}

// Add tracks conn under id.
func (m *Conns) Add(id domain.ClientID, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = conn
}

// Remove stops tracking id if it still maps to conn.
func (m *Conns) Remove(id domain.ClientID, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[id]; ok && current == conn {
		delete(m.active, id)
	}
}

// Count returns the number of open connections.
func (m *Conns) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CloseAll closes every tracked connection with status going-away.
func (m *Conns) CloseAll(reason string) {
	m.mu.Lock()
	conns := make(map[domain.ClientID]*websocket.Conn, len(m.active))
	for id, c := range m.active {
		conns[id] = c
	}
	m.active = make(map[domain.ClientID]*websocket.Conn)
	m.mu.Unlock()

	for id, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, reason)
		slog.Info("WebSocket closed", "client_id", id, "reason", reason)
	}
}
