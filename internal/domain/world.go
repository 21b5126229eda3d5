package domain

import "time"

// World is a campaign setting with its own game clock.
type World struct {
	ID              WorldID   `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	StartTime       time.Time `json:"start_time" yaml:"start_time"`
	DefaultTTLHours int       `json:"default_ttl_hours" yaml:"default_ttl_hours"`
}

// Location is a place made of regions.
type Location struct {
	ID              LocationID `json:"id" yaml:"id"`
	WorldID         WorldID    `json:"world_id" yaml:"world_id"`
	Name            string     `json:"name" yaml:"name"`
	Description     string     `json:"description,omitempty" yaml:"description"`
	DefaultRegionID RegionID   `json:"default_region_id" yaml:"default_region_id"`
}

// Region is a sub-area of a location where NPCs are staged.
type Region struct {
	ID          RegionID   `json:"id" yaml:"id"`
	LocationID  LocationID `json:"location_id" yaml:"location_id"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Backdrop    string     `json:"backdrop_asset,omitempty" yaml:"backdrop_asset"`
}

// RegionConnection is a directed edge between two regions of a location.
type RegionConnection struct {
	From        RegionID `json:"from" yaml:"from"`
	To          RegionID `json:"to" yaml:"to"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Locked      bool     `json:"locked" yaml:"locked"`
	LockReason  string   `json:"lock_reason,omitempty" yaml:"lock_reason"`
}

// LocationExit is a region-level exit into another location.
type LocationExit struct {
	FromRegion  RegionID   `json:"from_region" yaml:"from_region"`
	ToLocation  LocationID `json:"to_location" yaml:"to_location"`
	Description string     `json:"description,omitempty" yaml:"description"`
	Locked      bool       `json:"locked" yaml:"locked"`
	LockReason  string     `json:"lock_reason,omitempty" yaml:"lock_reason"`
}

// Character is a non-player character.
type Character struct {
	ID            CharacterID `json:"id" yaml:"id"`
	WorldID       WorldID     `json:"world_id" yaml:"world_id"`
	Name          string      `json:"name" yaml:"name"`
	SpriteAsset   string      `json:"sprite_asset,omitempty" yaml:"sprite_asset"`
	PortraitAsset string      `json:"portrait_asset,omitempty" yaml:"portrait_asset"`
	DefaultMood   string      `json:"default_mood,omitempty" yaml:"default_mood"`
}

// PlayerCharacter is a character controlled by a player.
type PlayerCharacter struct {
	ID         PlayerCharacterID `json:"id" yaml:"id"`
	WorldID    WorldID           `json:"world_id" yaml:"world_id"`
	UserID     string            `json:"user_id" yaml:"user_id"`
	Name       string            `json:"name" yaml:"name"`
	LocationID LocationID        `json:"location_id" yaml:"location_id"`
	RegionID   RegionID          `json:"region_id" yaml:"region_id"`
}

// Relation kinds between an NPC and a region.
const (
	RelationHome      = "home"
	RelationWorksAt   = "works_at"
	RelationFrequents = "frequents"
	RelationAvoids    = "avoids"
)

// NpcRegionRelation ties an NPC to a region for rule-based staging.
type NpcRegionRelation struct {
	CharacterID CharacterID `json:"character_id" yaml:"character_id"`
	RegionID    RegionID    `json:"region_id" yaml:"region_id"`
	Relation    string      `json:"relation" yaml:"relation"`
	Shift       string      `json:"shift,omitempty" yaml:"shift"`
	Frequency   string      `json:"frequency,omitempty" yaml:"frequency"`
}

// RegionNpc is a relation joined with its character.
type RegionNpc struct {
	Character Character
	Relation  NpcRegionRelation
}
