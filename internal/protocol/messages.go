// Package protocol defines the JSON wire format exchanged with clients.
package protocol

import (
	"time"

	"github.com/ashureev/tablestage/internal/domain"
)

// Inbound message types.
const (
	TypeJoinSession              = "JoinSession"
	TypeLeaveSession             = "LeaveSession"
	TypeSelectCharacter          = "SelectCharacter"
	TypePlayerAction             = "PlayerAction"
	TypeDirectorAction           = "DirectorAction"
	TypeMoveToRegion             = "MoveToRegion"
	TypeExitToLocation           = "ExitToLocation"
	TypeAdvanceTime              = "AdvanceTime"
	TypeStagingApprovalResponse  = "StagingApprovalResponse"
	TypeStagingRegenerateRequest = "StagingRegenerateRequest"
	TypePreStageRegion           = "PreStageRegion"
	TypePing                     = "Ping"
)

// Outbound message types.
const (
	TypeSessionJoined           = "SessionJoined"
	TypePlayerJoined            = "PlayerJoined"
	TypeParticipantUpdated      = "ParticipantUpdated"
	TypePlayerLeft              = "PlayerLeft"
	TypeCharacterSelected       = "CharacterSelected"
	TypeActionReceived          = "ActionReceived"
	TypeActionQueued            = "ActionQueued"
	TypeMovementBlocked         = "MovementBlocked"
	TypeStagingPending          = "StagingPending"
	TypeStagingApprovalRequired = "StagingApprovalRequired"
	TypeStagingReady            = "StagingReady"
	TypeSceneChanged            = "SceneChanged"
	TypeStagingRegenerated      = "StagingRegenerated"
	TypeGameTimeUpdated         = "GameTimeUpdated"
	TypeError                   = "Error"
	TypePong                    = "Pong"
)

// Message is an outbound frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// NewMessage builds an outbound frame.
func NewMessage(typ string, payload any) Message {
	return Message{Type: typ, Payload: payload}
}

// ErrorMessage converts any error into an Error frame.
func ErrorMessage(err error) Message {
	de := domain.AsError(err)
	return NewMessage(TypeError, ErrorPayload{Code: string(de.Code), Message: de.Message})
}

// --- inbound payloads ---

// JoinSession asks to join the live session of a world.
type JoinSession struct {
	WorldID string `json:"world_id"`
	Role    string `json:"role"`
	UserID  string `json:"user_id,omitempty"`
}

// LeaveSession leaves the current session.
type LeaveSession struct{}

// SelectCharacter picks the player character this connection controls.
type SelectCharacter struct {
	PCID string `json:"pc_id"`
}

// PlayerAction is a free-form player intent.
type PlayerAction struct {
	ActionType string  `json:"action_type"`
	Target     *string `json:"target,omitempty"`
	Dialogue   *string `json:"dialogue,omitempty"`
}

// DirectorAction is a free-form Director intent.
type DirectorAction struct {
	ActionType string  `json:"action_type"`
	Target     *string `json:"target,omitempty"`
	Dialogue   *string `json:"dialogue,omitempty"`
}

// MoveToRegion moves a PC within its current location.
type MoveToRegion struct {
	PCID     string `json:"pc_id"`
	RegionID string `json:"region_id"`
}

// ExitToLocation moves a PC into another location.
type ExitToLocation struct {
	PCID            string `json:"pc_id"`
	LocationID      string `json:"location_id"`
	ArrivalRegionID string `json:"arrival_region_id,omitempty"`
}

// AdvanceTime moves the session clock forward.
type AdvanceTime struct {
	Hours int `json:"hours"`
}

// NpcSelection is the Director's decision for a single NPC.
type NpcSelection struct {
	CharacterID         string `json:"character_id"`
	IsPresent           bool   `json:"is_present"`
	IsHiddenFromPlayers bool   `json:"is_hidden_from_players,omitempty"`
	Reasoning           string `json:"reasoning,omitempty"`
	Mood                string `json:"mood,omitempty"`
}

// StagingApprovalResponse resolves a pending approval.
type StagingApprovalResponse struct {
	RequestID    string         `json:"request_id"`
	ApprovedNpcs []NpcSelection `json:"approved_npcs"`
	TTLHours     int            `json:"ttl_hours"`
	Source       string         `json:"source"`
}

// StagingRegenerateRequest asks for fresh generated candidates.
type StagingRegenerateRequest struct {
	RequestID string `json:"request_id"`
	Guidance  string `json:"guidance"`
}

// PreStageRegion writes a staging before anyone arrives.
type PreStageRegion struct {
	RegionID string         `json:"region_id"`
	Npcs     []NpcSelection `json:"npcs"`
	TTLHours int            `json:"ttl_hours"`
}

// Ping is a keepalive.
type Ping struct{}

// --- outbound payloads ---

// ErrorPayload reports a failure to the originating client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParticipantInfo describes a participant to other clients.
type ParticipantInfo struct {
	UserID        string `json:"user_id"`
	Role          string `json:"role"`
	CharacterName string `json:"character_name,omitempty"`
}

// SessionJoinedPayload is the join confirmation.
type SessionJoinedPayload struct {
	SessionID    string            `json:"session_id"`
	WorldID      string            `json:"world_id"`
	WorldName    string            `json:"world_name"`
	Role         string            `json:"role"`
	Participants []ParticipantInfo `json:"participants"`
	GameTime     time.Time         `json:"game_time"`
}

// ParticipantPayload is used by PlayerJoined, ParticipantUpdated and PlayerLeft.
type ParticipantPayload = ParticipantInfo

// CharacterSelectedPayload confirms a character selection.
type CharacterSelectedPayload struct {
	PCID       string `json:"pc_id"`
	Name       string `json:"name"`
	LocationID string `json:"location_id"`
	RegionID   string `json:"region_id"`
}

// ActionReceivedPayload acknowledges an enqueued action.
type ActionReceivedPayload struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
}

// ActionQueuedPayload tells the Director about queue backlog.
type ActionQueuedPayload struct {
	ActionID   string `json:"action_id"`
	PlayerID   string `json:"player_id"`
	ActionType string `json:"action_type"`
	Queue      string `json:"queue"`
	Depth      int    `json:"depth"`
}

// MovementBlockedPayload reports a refused transition.
type MovementBlockedPayload struct {
	PCID   string `json:"pc_id"`
	Reason string `json:"reason"`
}

// StagingPendingPayload tells a player to wait for the Director.
type StagingPendingPayload struct {
	RegionID       string `json:"region_id"`
	RegionName     string `json:"region_name"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// StagingApprovalRequiredPayload asks the Director to resolve a staging.
type StagingApprovalRequiredPayload struct {
	RequestID       string                `json:"request_id"`
	RegionID        string                `json:"region_id"`
	RegionName      string                `json:"region_name"`
	LocationID      string                `json:"location_id"`
	LocationName    string                `json:"location_name"`
	GameTime        time.Time             `json:"game_time"`
	RuleBasedNpcs   []domain.NpcPresence  `json:"rule_based_npcs"`
	GeneratedNpcs   []domain.NpcPresence  `json:"generated_npcs"`
	PreviousStaging *domain.StagingRecord `json:"previous_staging,omitempty"`
	WaitingPcs      []domain.WaitingPc    `json:"waiting_pcs"`
	DefaultTTLHours int                   `json:"default_ttl_hours"`
	TimeoutSeconds  int                   `json:"timeout_seconds,omitempty"`
}

// StagingReadyPayload delivers the resolved NPC list to a player.
type StagingReadyPayload struct {
	RegionID string               `json:"region_id"`
	Npcs     []domain.NpcPresence `json:"npcs"`
	Source   string               `json:"source"`
}

// RegionView is the region part of a scene.
type RegionView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LocationID   string `json:"location_id"`
	LocationName string `json:"location_name"`
	Backdrop     string `json:"backdrop_asset,omitempty"`
}

// ExitView is one navigable exit.
type ExitView struct {
	RegionID    string `json:"region_id,omitempty"`
	LocationID  string `json:"location_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Locked      bool   `json:"locked"`
	LockReason  string `json:"lock_reason,omitempty"`
}

// Navigation lists the ways out of a region.
type Navigation struct {
	Regions   []ExitView `json:"regions"`
	Locations []ExitView `json:"locations"`
}

// SceneChangedPayload is the scene update addressed to one character.
type SceneChangedPayload struct {
	PCID       string               `json:"pc_id"`
	Region     RegionView           `json:"region"`
	Npcs       []domain.NpcPresence `json:"npcs"`
	Navigation Navigation           `json:"navigation"`
	GameTime   time.Time            `json:"game_time"`
}

// StagingRegeneratedPayload returns refreshed candidates to the Director.
type StagingRegeneratedPayload struct {
	RequestID     string               `json:"request_id"`
	GeneratedNpcs []domain.NpcPresence `json:"generated_npcs"`
}

// GameTimeUpdatedPayload announces a clock change.
type GameTimeUpdatedPayload struct {
	GameTime time.Time `json:"game_time"`
}
