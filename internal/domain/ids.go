// Package domain contains the core types of the session orchestration engine.
package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Identifier types. All persistent identifiers are canonical UUID strings.
type (
	ClientID          string
	SessionID         string
	WorldID           string
	RegionID          string
	LocationID        string
	CharacterID       string
	PlayerCharacterID string
	ActionID          string
	RequestID         string
	StagingID         string
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// NewClientID allocates an identifier for a live connection.
func NewClientID() ClientID { return ClientID(uuid.NewString()) }

// NewSessionID allocates a session identifier.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// NewActionID allocates an action identifier.
func NewActionID() ActionID { return ActionID(uuid.NewString()) }

// NewRequestID allocates a staging approval request identifier.
func NewRequestID() RequestID { return RequestID(uuid.NewString()) }

// NewStagingID allocates a staging record identifier.
func NewStagingID() StagingID { return StagingID(uuid.NewString()) }

func parseUUID(raw string, code Code, what string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", Validation(code, "invalid %s %q", what, raw)
	}
	return id.String(), nil
}

// ParseWorldID validates and canonicalizes a world identifier.
func ParseWorldID(raw string) (WorldID, error) {
	s, err := parseUUID(raw, CodeInvalidWorldID, "world id")
	return WorldID(s), err
}

// ParseRegionID validates and canonicalizes a region identifier.
func ParseRegionID(raw string) (RegionID, error) {
	s, err := parseUUID(raw, CodeInvalidRegionID, "region id")
	return RegionID(s), err
}

// ParseLocationID validates and canonicalizes a location identifier.
func ParseLocationID(raw string) (LocationID, error) {
	s, err := parseUUID(raw, CodeInvalidLocationID, "location id")
	return LocationID(s), err
}

// ParseCharacterID validates and canonicalizes an NPC identifier.
func ParseCharacterID(raw string) (CharacterID, error) {
	s, err := parseUUID(raw, CodeInvalidCharacterID, "character id")
	return CharacterID(s), err
}

// ParsePlayerCharacterID validates and canonicalizes a PC identifier.
func ParsePlayerCharacterID(raw string) (PlayerCharacterID, error) {
	s, err := parseUUID(raw, CodeInvalidPCID, "player character id")
	return PlayerCharacterID(s), err
}

// ParseRequestID validates a staging approval request identifier.
func ParseRequestID(raw string) (RequestID, error) {
	s, err := parseUUID(raw, CodeInvalidRequestID, "request id")
	return RequestID(s), err
}

// ValidateUserID checks a user identifier. User ids are opaque but bounded.
func ValidateUserID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if !userIDPattern.MatchString(id) {
		return "", Validation(CodeInvalidUserID, "invalid user id %q", raw)
	}
	return id, nil
}
