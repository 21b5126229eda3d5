package domain

import (
	"time"
)

// StagingSource records how a staging was produced.
type StagingSource string

const (
	SourceRuleBased    StagingSource = "rule_based"
	SourceLLMBased     StagingSource = "llm_based"
	SourceDMCustomized StagingSource = "dm_customized"
	SourcePreStaged    StagingSource = "pre_staged"
	SourceAutoApproved StagingSource = "auto_approved"
)

// ParseStagingSource validates a source sent by a client.
func ParseStagingSource(raw string) (StagingSource, error) {
	switch s := StagingSource(raw); s {
	case SourceRuleBased, SourceLLMBased, SourceDMCustomized, SourcePreStaged, SourceAutoApproved:
		return s, nil
	case "rule":
		return SourceRuleBased, nil
	case "llm":
		return SourceLLMBased, nil
	case "custom":
		return SourceDMCustomized, nil
	}
	return "", Validation(CodeInvalidMessage, "unknown staging source %q", raw)
}

// NpcPresence is one NPC's presence decision within a region.
type NpcPresence struct {
	CharacterID         CharacterID `json:"character_id"`
	Name                string      `json:"name"`
	SpriteAsset         string      `json:"sprite_asset,omitempty"`
	PortraitAsset       string      `json:"portrait_asset,omitempty"`
	IsPresent           bool        `json:"is_present"`
	IsHiddenFromPlayers bool        `json:"is_hidden_from_players"`
	Reasoning           string      `json:"reasoning,omitempty"`
	Mood                string      `json:"mood,omitempty"`
}

// VisibleToPlayers reports whether players should see this NPC in the scene.
func (n NpcPresence) VisibleToPlayers() bool {
	return n.IsPresent && !n.IsHiddenFromPlayers
}

// VisibleNpcs filters a presence list down to what players see.
func VisibleNpcs(npcs []NpcPresence) []NpcPresence {
	out := make([]NpcPresence, 0, len(npcs))
	for _, n := range npcs {
		if n.VisibleToPlayers() {
			out = append(out, n)
		}
	}
	return out
}

// StagingRecord is an approved NPC presence configuration for a region,
// valid for TTLHours of game time from ApprovedAt.
type StagingRecord struct {
	ID         StagingID     `json:"id"`
	WorldID    WorldID       `json:"world_id"`
	RegionID   RegionID      `json:"region_id"`
	LocationID LocationID    `json:"location_id"`
	Npcs       []NpcPresence `json:"npcs"`
	ApprovedAt time.Time     `json:"approved_at"`
	TTLHours   int           `json:"ttl_hours"`
	Source     StagingSource `json:"source"`
	ApprovedBy string        `json:"approved_by"`
	Guidance   string        `json:"guidance,omitempty"`
}

// ExpiresAt is the first game instant at which the record is no longer valid.
func (r StagingRecord) ExpiresAt() time.Time {
	return r.ApprovedAt.Add(time.Duration(r.TTLHours) * time.Hour)
}

// IsValidAt reports whether the record applies at the given game time.
// Validity is the half-open interval [ApprovedAt, ApprovedAt+TTL).
func (r StagingRecord) IsValidAt(gameTime time.Time) bool {
	return gameTime.Before(r.ExpiresAt())
}

// Proposal holds the two candidate presence lists shown to the Director.
type Proposal struct {
	RuleBased []NpcPresence `json:"rule_based"`
	Generated []NpcPresence `json:"generated"`
}

// WaitingPc is a player character blocked on a pending approval.
type WaitingPc struct {
	PCID     PlayerCharacterID `json:"pc_id"`
	PCName   string            `json:"pc_name"`
	ClientID ClientID          `json:"-"`
	UserID   string            `json:"user_id"`
}

// PendingStagingApproval is the single in-flight approval for a region.
type PendingStagingApproval struct {
	RequestID    RequestID      `json:"request_id"`
	WorldID      WorldID        `json:"world_id"`
	RegionID     RegionID       `json:"region_id"`
	RegionName   string         `json:"region_name"`
	LocationID   LocationID     `json:"location_id"`
	LocationName string         `json:"location_name"`
	Proposal     Proposal       `json:"proposal"`
	Previous     *StagingRecord `json:"previous_staging,omitempty"`
	WaitingPcs   []WaitingPc    `json:"waiting_pcs"`
	CreatedAt    time.Time      `json:"created_at"`
	// Ready is false while the first generator call is still in flight.
	Ready bool `json:"-"`
}

// AddWaiter appends pc unless it is already waiting.
func (p *PendingStagingApproval) AddWaiter(pc WaitingPc) bool {
	for _, w := range p.WaitingPcs {
		if w.PCID == pc.PCID {
			return false
		}
	}
	p.WaitingPcs = append(p.WaitingPcs, pc)
	return true
}

// ProposalRequest is what a proposal generator is asked about.
type ProposalRequest struct {
	WorldID         WorldID
	RegionID        RegionID
	RegionName      string
	LocationID      LocationID
	LocationName    string
	GameTime        time.Time
	DefaultTTLHours int
	Guidance        string
}
