package staging

import (
	"context"
	"fmt"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/session"
)

func requireDirector(p domain.Participant) error {
	if !p.IsDirector() {
		return domain.ErrNotAuthorized
	}
	return nil
}

// Approve resolves a pending approval with the Director's NPC list. The
// approval is removed before anything is delivered, so a repeated or late
// response for the same request fails with STAGING_NOT_FOUND.
func (w *Workflow) Approve(ctx context.Context, s *session.Session, director domain.Participant, resp protocol.StagingApprovalResponse) error {
	if err := requireDirector(director); err != nil {
		return err
	}
	requestID, err := domain.ParseRequestID(resp.RequestID)
	if err != nil {
		return err
	}
	source, err := domain.ParseStagingSource(resp.Source)
	if err != nil {
		return err
	}
	ttl, err := validateTTL(resp.TTLHours, w.defaultTTL(s.World()))
	if err != nil {
		return err
	}

	var candidates domain.Proposal
	var found bool
	s.Staging(func(st *session.StagingState) {
		if p, ok := st.PendingByRequest(requestID); ok {
			candidates = p.Proposal
			found = true
		}
	})
	if !found {
		return domain.ErrStagingNotFound
	}

	npcs, err := w.resolveNpcs(ctx, resp.ApprovedNpcs, candidates.RuleBased, candidates.Generated)
	if err != nil {
		return err
	}

	rec := domain.StagingRecord{
		ID:         domain.NewStagingID(),
		WorldID:    s.WorldID(),
		Npcs:       npcs,
		ApprovedAt: s.GameTime(),
		TTLHours:   ttl,
		Source:     source,
		ApprovedBy: director.UserID,
	}
	var pending *domain.PendingStagingApproval
	s.Staging(func(st *session.StagingState) {
		p, ok := st.TakePending(requestID)
		if !ok {
			return
		}
		pending = p
		rec.RegionID = p.RegionID
		rec.LocationID = p.LocationID
		st.Put(rec)
	})
	if pending == nil {
		return domain.ErrStagingNotFound
	}

	w.logger.Info("Staging approved", "session_id", s.ID(), "request_id", requestID, "region_id", rec.RegionID,
		"source", source, "ttl_hours", ttl, "waiting", len(pending.WaitingPcs))
	w.complete(ctx, s, pending, rec, events.StagingApproved)
	return nil
}

// Regenerate refreshes only the generated candidates of an open approval
// and returns them to the requesting Director. Waiting players are not told.
func (w *Workflow) Regenerate(ctx context.Context, s *session.Session, director domain.Participant, msg protocol.StagingRegenerateRequest) error {
	if err := requireDirector(director); err != nil {
		return err
	}
	requestID, err := domain.ParseRequestID(msg.RequestID)
	if err != nil {
		return err
	}

	var req domain.ProposalRequest
	var previous []domain.NpcPresence
	var found bool
	s.Staging(func(st *session.StagingState) {
		p, ok := st.PendingByRequest(requestID)
		if !ok {
			return
		}
		found = true
		previous = p.Proposal.Generated
		req = domain.ProposalRequest{
			WorldID:         p.WorldID,
			RegionID:        p.RegionID,
			RegionName:      p.RegionName,
			LocationID:      p.LocationID,
			LocationName:    p.LocationName,
			DefaultTTLHours: w.defaultTTL(s.World()),
			Guidance:        msg.Guidance,
		}
	})
	if !found {
		return domain.ErrStagingNotFound
	}
	req.GameTime = s.GameTime()

	generated, err := w.gen.Regenerate(ctx, req)
	if err != nil {
		w.logger.Warn("Regeneration failed, keeping previous candidates", "request_id", requestID, "error", err)
		generated = previous
	}

	found = false
	s.Staging(func(st *session.StagingState) {
		if p, ok := st.PendingByRequest(requestID); ok {
			p.Proposal.Generated = generated
			found = true
		}
	})
	if !found {
		return domain.ErrStagingNotFound
	}

	_ = w.router.SendTo(director.ClientID, protocol.NewMessage(protocol.TypeStagingRegenerated, protocol.StagingRegeneratedPayload{
		RequestID:     string(requestID),
		GeneratedNpcs: nonNil(generated),
	}))
	return nil
}

// PreStage writes a record for a region before anyone arrives. An approval
// already open for that region is resolved with it.
func (w *Workflow) PreStage(ctx context.Context, s *session.Session, director domain.Participant, msg protocol.PreStageRegion) error {
	if err := requireDirector(director); err != nil {
		return err
	}
	regionID, err := domain.ParseRegionID(msg.RegionID)
	if err != nil {
		return err
	}
	ttl, err := validateTTL(msg.TTLHours, w.defaultTTL(s.World()))
	if err != nil {
		return err
	}
	region, err := w.world.Region(ctx, regionID)
	if err != nil {
		return fmt.Errorf("load region: %w", err)
	}
	if region == nil {
		return domain.NotFound(domain.CodeRegionNotFound, "region %s not found", regionID)
	}
	npcs, err := w.resolveNpcs(ctx, msg.Npcs)
	if err != nil {
		return err
	}

	rec := domain.StagingRecord{
		ID:         domain.NewStagingID(),
		WorldID:    s.WorldID(),
		RegionID:   region.ID,
		LocationID: region.LocationID,
		Npcs:       npcs,
		ApprovedAt: s.GameTime(),
		TTLHours:   ttl,
		Source:     domain.SourcePreStaged,
		ApprovedBy: director.UserID,
	}
	var pending *domain.PendingStagingApproval
	s.Staging(func(st *session.StagingState) {
		st.Put(rec)
		if p, ok := st.TakePendingForRegion(region.ID); ok {
			pending = p
		}
	})

	w.logger.Info("Region pre-staged", "session_id", s.ID(), "region_id", region.ID, "ttl_hours", ttl, "resolved_pending", pending != nil)
	if pending == nil {
		pending = &domain.PendingStagingApproval{RegionID: region.ID, LocationID: region.LocationID}
	}
	w.complete(ctx, s, pending, rec, events.StagingPreStaged)
	return nil
}

// complete persists rec, publishes the event and notifies every waiter.
func (w *Workflow) complete(ctx context.Context, s *session.Session, p *domain.PendingStagingApproval, rec domain.StagingRecord, eventType string) {
	w.persist(rec)
	w.publish(ctx, eventType, s.WorldID(), s.ID(), map[string]any{
		"staging_id": string(rec.ID),
		"region_id":  string(rec.RegionID),
		"source":     string(rec.Source),
		"ttl_hours":  rec.TTLHours,
		"npcs":       len(rec.Npcs),
		"approved":   rec.ApprovedBy,
	})
	if len(p.WaitingPcs) == 0 {
		return
	}

	region, err := w.world.Region(ctx, rec.RegionID)
	if err != nil || region == nil {
		w.logger.Warn("Region vanished before delivery", "region_id", rec.RegionID, "error", err)
		region = &domain.Region{ID: rec.RegionID, LocationID: rec.LocationID, Name: p.RegionName}
	}
	loc, err := w.world.Location(ctx, region.LocationID)
	if err != nil || loc == nil {
		loc = &domain.Location{ID: region.LocationID, Name: p.LocationName}
	}
	w.deliver(ctx, s, p.WaitingPcs, *region, *loc, rec.Npcs, rec.Source)
}

// resolveNpcs turns Director selections into presence entries, filling
// names and assets from the proposal or the world.
func (w *Workflow) resolveNpcs(ctx context.Context, picks []protocol.NpcSelection, known ...[]domain.NpcPresence) ([]domain.NpcPresence, error) {
	index := make(map[domain.CharacterID]domain.NpcPresence)
	for _, list := range known {
		for _, n := range list {
			index[n.CharacterID] = n
		}
	}

	out := make([]domain.NpcPresence, 0, len(picks))
	for _, pick := range picks {
		id, err := domain.ParseCharacterID(pick.CharacterID)
		if err != nil {
			return nil, err
		}
		base, ok := index[id]
		if !ok {
			ch, err := w.world.Character(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("load character: %w", err)
			}
			if ch == nil {
				return nil, domain.NotFound(domain.CodeCharacterNotFound, "character %s not found", id)
			}
			base = domain.NpcPresence{
				CharacterID:   ch.ID,
				Name:          ch.Name,
				SpriteAsset:   ch.SpriteAsset,
				PortraitAsset: ch.PortraitAsset,
				Mood:          ch.DefaultMood,
			}
		}
		base.IsPresent = pick.IsPresent
		base.IsHiddenFromPlayers = pick.IsHiddenFromPlayers
		if pick.Reasoning != "" {
			base.Reasoning = pick.Reasoning
		}
		if pick.Mood != "" {
			base.Mood = pick.Mood
		}
		out = append(out, base)
	}
	return out, nil
}

// PendingApprovals returns approval requests for every open, ready
// approval of the session. Used to brief a Director who joins late.
func (w *Workflow) PendingApprovals(s *session.Session) []protocol.Message {
	gameTime := s.GameTime()
	var snaps []domain.PendingStagingApproval
	s.Staging(func(st *session.StagingState) {
		snaps = st.ReadyPending()
	})
	out := make([]protocol.Message, 0, len(snaps))
	for _, p := range snaps {
		out = append(out, w.approvalRequired(p, gameTime, w.defaultTTL(s.World())))
	}
	return out
}
