// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
)

// Action statuses recorded in the action log.
const (
	ActionProcessed = "processed"
	ActionFailed    = "failed"
)

// ActionEntry is one row of the action log.
type ActionEntry struct {
	Request     domain.ActionRequest
	Status      string
	Error       string
	ProcessedAt time.Time
}

// Repository defines the interface for persisting stagings and actions.
type Repository interface {
	// Approve stores a Director-approved staging and makes it the region's
	// current record. Earlier records are kept but no longer current.
	Approve(ctx context.Context, rec domain.StagingRecord) error

	// PreStage stores a staging written before anyone entered the region.
	PreStage(ctx context.Context, rec domain.StagingRecord) error

	// GetCurrent returns the region's current record if it is still valid
	// at gameTime, or nil.
	GetCurrent(ctx context.Context, region domain.RegionID, gameTime time.Time) (*domain.StagingRecord, error)

	// GetPrevious returns the region's most recent record regardless of
	// validity, or nil.
	GetPrevious(ctx context.Context, region domain.RegionID) (*domain.StagingRecord, error)

	// History lists the region's records, newest first.
	History(ctx context.Context, region domain.RegionID, limit int) ([]domain.StagingRecord, error)

	// RecordAction appends an entry to the action log.
	RecordAction(ctx context.Context, entry ActionEntry) error

	// ListActions returns a session's logged actions, oldest first.
	ListActions(ctx context.Context, sessionID domain.SessionID) ([]ActionEntry, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
