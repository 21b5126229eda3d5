// Package session tracks live connections, per-world sessions and message routing.
package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/protocol"
)

// Sink delivers outbound frames to one client. Deliver must not block on
// the network; slow consumers should be dropped by the implementation.
type Sink interface {
	Deliver(msg protocol.Message) error
}

// Connection is the routing state of one live client.
type Connection struct {
	ID          domain.ClientID
	UserID      string
	SessionID   domain.SessionID
	WorldID     domain.WorldID
	Role        domain.Role
	SelectedPC  domain.PlayerCharacterID
	ConnectedAt time.Time

	sink Sink
}

// InSession reports whether the connection has joined a session.
func (c Connection) InSession() bool {
	return c.SessionID != ""
}

// JoinResult describes a successful join.
type JoinResult struct {
	Session     *Session
	Participant domain.Participant
	// Others are the participants that were already present.
	Others []domain.Participant
	// Left is set when the client was moved out of another session.
	Left *LeaveResult
}

// LeaveResult describes a participant that left a session.
type LeaveResult struct {
	Session     *Session
	Participant domain.Participant
}

// Registry owns all connections and sessions of the process.
type Registry struct {
	mu             sync.RWMutex
	conns          map[domain.ClientID]*Connection
	sessions       map[domain.SessionID]*Session
	byWorld        map[domain.WorldID]domain.SessionID
	clientSession  map[domain.ClientID]domain.SessionID
	sessionClients map[domain.SessionID]map[domain.ClientID]struct{}
	logger         *slog.Logger
	now            func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:          make(map[domain.ClientID]*Connection),
		sessions:       make(map[domain.SessionID]*Session),
		byWorld:        make(map[domain.WorldID]domain.SessionID),
		clientSession:  make(map[domain.ClientID]domain.SessionID),
		sessionClients: make(map[domain.SessionID]map[domain.ClientID]struct{}),
		logger:         logger,
		now:            time.Now,
	}
}

// Register adds a live connection and returns its identifier.
func (r *Registry) Register(userID string, sink Sink) domain.ClientID {
	id := domain.NewClientID()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &Connection{ID: id, UserID: userID, ConnectedAt: r.now(), sink: sink}
	r.logger.Info("Client registered", "client_id", id, "user_id", userID)
	return id
}

// Unregister removes a connection from every routing table. Callers that
// want a PlayerLeft broadcast should call Leave first.
func (r *Registry) Unregister(id domain.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return
	}
	if sid, ok := r.clientSession[id]; ok {
		delete(r.sessionClients[sid], id)
		delete(r.clientSession, id)
	}
	delete(r.conns, id)
	r.logger.Info("Client unregistered", "client_id", id)
}

// Connection returns a copy of the connection state.
func (r *Registry) Connection(id domain.ClientID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// SelectCharacter records the character a connection controls and updates
// its participant entry.
func (r *Registry) SelectCharacter(id domain.ClientID, pc domain.PlayerCharacter) (*Session, domain.Participant, error) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok || c.SessionID == "" {
		r.mu.Unlock()
		return nil, domain.Participant{}, domain.ErrNotInSession
	}
	c.SelectedPC = pc.ID
	s := r.sessions[c.SessionID]
	r.mu.Unlock()

	p, ok := s.setCharacterName(id, pc.Name)
	if !ok {
		return nil, domain.Participant{}, domain.ErrNotInSession
	}
	return s, p, nil
}

// Join attaches a client to the session of a world, creating the session
// if none exists yet.
func (r *Registry) Join(id domain.ClientID, userID string, role domain.Role, world domain.World) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return JoinResult{}, domain.StateError(domain.CodeNotInSession, "unknown client %s", id)
	}

	var res JoinResult
	if sid, ok := r.clientSession[id]; ok {
		prev := r.sessions[sid]
		if prev.WorldID() == world.ID && c.Role == role {
			return JoinResult{}, domain.StateError(domain.CodeAlreadyInSession, "already joined world %s as %s", world.ID, role)
		}
		if left, ok := r.leaveLocked(id); ok {
			res.Left = left
		}
	}

	sid, ok := r.byWorld[world.ID]
	if !ok {
		s := newSession(world, r.now())
		sid = s.ID()
		r.sessions[sid] = s
		r.byWorld[world.ID] = sid
		r.sessionClients[sid] = make(map[domain.ClientID]struct{})
		r.logger.Info("Session created", "session_id", sid, "world_id", world.ID)
	}
	s := r.sessions[sid]

	c.UserID = userID
	c.SessionID = sid
	c.WorldID = world.ID
	c.Role = role
	c.SelectedPC = ""
	r.clientSession[id] = sid
	r.sessionClients[sid][id] = struct{}{}

	p := domain.Participant{ClientID: id, UserID: userID, Role: role, JoinedAt: r.now()}
	res.Others = s.addParticipant(p)
	res.Session = s
	res.Participant = p

	r.logger.Info("Client joined session", "client_id", id, "user_id", userID, "role", role, "session_id", sid)
	return res, nil
}

// Leave detaches a client from its session. The connection stays registered.
func (r *Registry) Leave(id domain.ClientID) (*LeaveResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(id)
}

func (r *Registry) leaveLocked(id domain.ClientID) (*LeaveResult, bool) {
	sid, ok := r.clientSession[id]
	if !ok {
		return nil, false
	}
	delete(r.clientSession, id)
	delete(r.sessionClients[sid], id)
	if c, ok := r.conns[id]; ok {
		c.SessionID = ""
		c.WorldID = ""
		c.Role = ""
		c.SelectedPC = ""
	}

	s := r.sessions[sid]
	p, ok := s.removeParticipant(id)
	if !ok {
		return nil, false
	}
	r.logger.Info("Client left session", "client_id", id, "user_id", p.UserID, "session_id", sid)
	return &LeaveResult{Session: s, Participant: p}, true
}

// SessionOf returns the session a client has joined.
func (r *Registry) SessionOf(id domain.ClientID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.clientSession[id]
	if !ok {
		return nil, false
	}
	return r.sessions[sid], true
}

// Session looks up a session by id.
func (r *Registry) Session(id domain.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns all sessions ordered by creation time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out
}

// ClientCount returns the number of registered connections.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

type recipient struct {
	id   domain.ClientID
	sink Sink
}

func (r *Registry) sinkFor(id domain.ClientID) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok || c.sink == nil {
		return nil, false
	}
	return c.sink, true
}

// recipients snapshots the sinks of a session matching keep.
func (r *Registry) recipients(sid domain.SessionID, keep func(*Connection) bool) []recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.sessionClients[sid]
	out := make([]recipient, 0, len(members))
	for id := range members {
		c, ok := r.conns[id]
		if !ok || c.sink == nil {
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		out = append(out, recipient{id: id, sink: c.sink})
	}
	return out
}
