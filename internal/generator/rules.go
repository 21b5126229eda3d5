// Package generator produces NPC presence proposals for a region.
package generator

import (
	"context"
	"fmt"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/world"
)

// RuleBased derives presence suggestions from NPC-region relations.
type RuleBased struct {
	repo world.Repository
}

// NewRuleBased creates a rule engine over the world repository.
func NewRuleBased(repo world.Repository) *RuleBased {
	return &RuleBased{repo: repo}
}

// Suggest returns one present NPC per relation, skipping NPCs that avoid
// the region.
func (r *RuleBased) Suggest(ctx context.Context, region domain.RegionID) ([]domain.NpcPresence, error) {
	npcs, err := r.repo.RegionNpcs(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("load region npcs: %w", err)
	}
	return Suggestions(npcs), nil
}

// Suggestions applies the presence rules to already-loaded relations.
func Suggestions(npcs []domain.RegionNpc) []domain.NpcPresence {
	avoid := make(map[domain.CharacterID]bool)
	for _, n := range npcs {
		if n.Relation.Relation == domain.RelationAvoids {
			avoid[n.Character.ID] = true
		}
	}

	out := make([]domain.NpcPresence, 0, len(npcs))
	seen := make(map[domain.CharacterID]bool)
	for _, n := range npcs {
		if avoid[n.Character.ID] || seen[n.Character.ID] {
			continue
		}
		reason, ok := reasoning(n.Relation)
		if !ok {
			continue
		}
		seen[n.Character.ID] = true
		out = append(out, domain.NpcPresence{
			CharacterID:   n.Character.ID,
			Name:          n.Character.Name,
			SpriteAsset:   n.Character.SpriteAsset,
			PortraitAsset: n.Character.PortraitAsset,
			IsPresent:     true,
			Reasoning:     reason,
			Mood:          n.Character.DefaultMood,
		})
	}
	return out
}

func reasoning(rel domain.NpcRegionRelation) (string, bool) {
	switch rel.Relation {
	case domain.RelationHome:
		return "Lives here", true
	case domain.RelationWorksAt:
		if rel.Shift != "" {
			return fmt.Sprintf("Works here (%s shift)", rel.Shift), true
		}
		return "Works here", true
	case domain.RelationFrequents:
		freq := rel.Frequency
		if freq == "" {
			freq = "sometimes"
		}
		return fmt.Sprintf("Frequents this area (%s)", freq), true
	}
	return "", false
}
