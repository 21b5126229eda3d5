// Package world provides read-only access to worlds, locations, regions
// and characters.
package world

import (
	"context"

	"github.com/ashureev/tablestage/internal/domain"
)

// Repository is the read-only world model. Lookups of unknown ids return
// (nil, nil).
type Repository interface {
	World(ctx context.Context, id domain.WorldID) (*domain.World, error)
	Location(ctx context.Context, id domain.LocationID) (*domain.Location, error)
	Region(ctx context.Context, id domain.RegionID) (*domain.Region, error)
	Character(ctx context.Context, id domain.CharacterID) (*domain.Character, error)
	PlayerCharacter(ctx context.Context, id domain.PlayerCharacterID) (*domain.PlayerCharacter, error)

	// Connection returns the edge from one region to another, or nil if
	// the regions are not connected.
	Connection(ctx context.Context, from, to domain.RegionID) (*domain.RegionConnection, error)
	// RegionExits lists outgoing region connections.
	RegionExits(ctx context.Context, region domain.RegionID) ([]domain.RegionConnection, error)
	// LocationExits lists exits from a region into other locations.
	LocationExits(ctx context.Context, region domain.RegionID) ([]domain.LocationExit, error)
	// RegionNpcs lists NPCs related to a region for rule-based staging.
	RegionNpcs(ctx context.Context, region domain.RegionID) ([]domain.RegionNpc, error)

	Close(ctx context.Context) error
}
