// Package events publishes domain events to the event stream.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	SessionJoined       = "session.joined"
	SessionLeft         = "session.left"
	CharacterSelected   = "session.character_selected"
	StagingApproved     = "staging.approved"
	StagingPreStaged    = "staging.pre_staged"
	StagingAutoApproved = "staging.auto_approved"
	StagingDegraded     = "staging.degraded"
	TimeAdvanced        = "time.advanced"
	ActionProcessed     = "action.processed"
	ActionFailed        = "action.failed"
)

// Event is one domain event.
type Event struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	WorldID   string         `json:"world_id"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New builds an event stamped with a fresh id and the current time.
func New(eventType, worldID, sessionID string, payload map[string]any) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		WorldID:   worldID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Publisher sends events. Publish must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Memory keeps published events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (m *Memory) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() error { return nil }

// Events returns published events of the given type, or all when typ is empty.
func (m *Memory) Events(typ string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if typ == "" || e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}
