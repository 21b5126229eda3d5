package session

import (
	"sort"
	"sync"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
)

// Session is the in-memory state of one world's live game. All mutable
// fields are guarded by mu; cross-session state needs no coordination.
type Session struct {
	id        domain.SessionID
	world     domain.World
	createdAt time.Time

	mu           sync.RWMutex
	participants map[domain.ClientID]domain.Participant
	positions    map[domain.PlayerCharacterID]domain.RegionID
	clock        time.Time
	staging      StagingState
}

func newSession(world domain.World, now time.Time) *Session {
	return &Session{
		id:           domain.NewSessionID(),
		world:        world,
		createdAt:    now,
		participants: make(map[domain.ClientID]domain.Participant),
		positions:    make(map[domain.PlayerCharacterID]domain.RegionID),
		clock:        world.StartTime,
		staging:      newStagingState(),
	}
}

// NewDetached creates a session that is not tracked by any registry.
func NewDetached(world domain.World) *Session {
	return newSession(world, time.Now())
}

// ID returns the session identifier.
func (s *Session) ID() domain.SessionID { return s.id }

// WorldID returns the world this session plays in.
func (s *Session) WorldID() domain.WorldID { return s.world.ID }

// World returns the world definition.
func (s *Session) World() domain.World { return s.world }

// CreatedAt returns the wall-clock creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) addParticipant(p domain.Participant) []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	others := make([]domain.Participant, 0, len(s.participants))
	for _, existing := range s.participants {
		others = append(others, existing)
	}
	sortParticipants(others)
	s.participants[p.ClientID] = p
	return others
}

func (s *Session) removeParticipant(id domain.ClientID) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if ok {
		delete(s.participants, id)
	}
	return p, ok
}

func (s *Session) setCharacterName(id domain.ClientID, name string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	p.CharacterName = name
	s.participants[id] = p
	return p, true
}

// Participant returns the participant entry for a client.
func (s *Session) Participant(id domain.ClientID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns all participants ordered by join time.
func (s *Session) Participants() []domain.Participant {
	s.mu.RLock()
	out := make([]domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sortParticipants(out)
	return out
}

func sortParticipants(ps []domain.Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].ClientID < ps[j].ClientID
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}

// GameTime reads the session clock.
func (s *Session) GameTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock
}

// AdvanceTime moves the clock forward and returns the new game time.
func (s *Session) AdvanceTime(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.clock = s.clock.Add(d)
	}
	return s.clock
}

// Position returns the region a character currently occupies in this session.
func (s *Session) Position(pc domain.PlayerCharacterID) (domain.RegionID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.positions[pc]
	return r, ok
}

// SetPosition records a character's region.
func (s *Session) SetPosition(pc domain.PlayerCharacterID, region domain.RegionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pc] = region
}

// Staging runs fn with exclusive access to the staging state. fn must not
// block on I/O.
func (s *Session) Staging(fn func(st *StagingState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.staging)
}

// Summary is a read-only view used by the HTTP API.
type Summary struct {
	SessionID        domain.SessionID     `json:"session_id"`
	WorldID          domain.WorldID       `json:"world_id"`
	WorldName        string               `json:"world_name"`
	Participants     []domain.Participant `json:"participants"`
	PendingApprovals int                  `json:"pending_approvals"`
	CachedStagings   int                  `json:"cached_stagings"`
	GameTime         time.Time            `json:"game_time"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Summary snapshots the session.
func (s *Session) Summary() Summary {
	participants := s.Participants()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		SessionID:        s.id,
		WorldID:          s.world.ID,
		WorldName:        s.world.Name,
		Participants:     participants,
		PendingApprovals: len(s.staging.pending),
		CachedStagings:   len(s.staging.cache),
		GameTime:         s.clock,
		CreatedAt:        s.createdAt,
	}
}
