package domain

import (
	"strings"
	"time"
)

// Role is the part a participant plays in a session.
type Role string

const (
	RoleDirector  Role = "director"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// ParseRole accepts role names case-insensitively.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleDirector, "dm":
		return RoleDirector, nil
	case RolePlayer:
		return RolePlayer, nil
	case RoleSpectator:
		return RoleSpectator, nil
	}
	return "", Validation(CodeInvalidRole, "unknown role %q", raw)
}

// Participant is one join of a user into a session. Rejoining with a
// different role produces a new Participant.
type Participant struct {
	ClientID      ClientID  `json:"-"`
	UserID        string    `json:"user_id"`
	Role          Role      `json:"role"`
	CharacterName string    `json:"character_name,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
}

// IsDirector reports whether the participant holds approval authority.
func (p Participant) IsDirector() bool {
	return p.Role == RoleDirector
}

// ActionRequest is a player or director intent queued for processing.
type ActionRequest struct {
	ActionID   ActionID           `json:"action_id"`
	SessionID  SessionID          `json:"session_id"`
	WorldID    WorldID            `json:"world_id"`
	PlayerID   string             `json:"player_id"`
	ClientID   ClientID           `json:"-"`
	PCID       *PlayerCharacterID `json:"pc_id,omitempty"`
	ActionType string             `json:"action_type"`
	Target     *string            `json:"target,omitempty"`
	Dialogue   *string            `json:"dialogue,omitempty"`
	FromDM     bool               `json:"from_dm"`
	QueuedAt   time.Time          `json:"queued_at"`
}
