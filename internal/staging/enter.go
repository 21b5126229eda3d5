package staging

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/session"
	"go.opentelemetry.io/otel/attribute"
)

// Mover is the character asking to change region and the client driving it.
type Mover struct {
	ClientID domain.ClientID
	UserID   string
	PC       domain.PlayerCharacter
}

func (m Mover) waiter() domain.WaitingPc {
	return domain.WaitingPc{PCID: m.PC.ID, PCName: m.PC.Name, ClientID: m.ClientID, UserID: m.UserID}
}

// CurrentRegion returns where a character is in the session, falling back
// to the world's record of it.
func CurrentRegion(s *session.Session, pc domain.PlayerCharacter) domain.RegionID {
	if r, ok := s.Position(pc.ID); ok {
		return r
	}
	return pc.RegionID
}

// MoveToRegion moves a character to a connected region of its location.
func (w *Workflow) MoveToRegion(ctx context.Context, s *session.Session, m Mover, target domain.RegionID) error {
	region, err := w.world.Region(ctx, target)
	if err != nil {
		return fmt.Errorf("load region: %w", err)
	}
	if region == nil {
		return domain.NotFound(domain.CodeRegionNotFound, "region %s not found", target)
	}

	from := CurrentRegion(s, m.PC)
	if from != target {
		conn, err := w.world.Connection(ctx, from, target)
		if err != nil {
			return fmt.Errorf("load connection: %w", err)
		}
		if conn == nil {
			w.blocked(m, fmt.Sprintf("There is no way from here to %s.", region.Name))
			return nil
		}
		if conn.Locked {
			reason := conn.LockReason
			if reason == "" {
				reason = fmt.Sprintf("The way to %s is locked.", region.Name)
			}
			w.blocked(m, reason)
			return nil
		}
	}

	loc, err := w.world.Location(ctx, region.LocationID)
	if err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	if loc == nil {
		return domain.NotFound(domain.CodeLocationNotFound, "location %s not found", region.LocationID)
	}
	return w.enter(ctx, s, m, *region, *loc)
}

// ExitToLocation moves a character through a location exit, arriving at
// arrival or the location's default region.
func (w *Workflow) ExitToLocation(ctx context.Context, s *session.Session, m Mover, target domain.LocationID, arrival domain.RegionID) error {
	loc, err := w.world.Location(ctx, target)
	if err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	if loc == nil {
		return domain.NotFound(domain.CodeLocationNotFound, "location %s not found", target)
	}

	exits, err := w.world.LocationExits(ctx, CurrentRegion(s, m.PC))
	if err != nil {
		return fmt.Errorf("load exits: %w", err)
	}
	var exit *domain.LocationExit
	for i := range exits {
		if exits[i].ToLocation == target {
			exit = &exits[i]
			break
		}
	}
	if exit == nil {
		w.blocked(m, fmt.Sprintf("There is no exit to %s from here.", loc.Name))
		return nil
	}
	if exit.Locked {
		reason := exit.LockReason
		if reason == "" {
			reason = fmt.Sprintf("The way to %s is locked.", loc.Name)
		}
		w.blocked(m, reason)
		return nil
	}

	if arrival == "" {
		arrival = loc.DefaultRegionID
	}
	if arrival == "" {
		return domain.Validation(domain.CodeInvalidRegionID, "location %s has no default region; arrival_region_id required", loc.Name)
	}
	region, err := w.world.Region(ctx, arrival)
	if err != nil {
		return fmt.Errorf("load region: %w", err)
	}
	if region == nil || region.LocationID != loc.ID {
		return domain.NotFound(domain.CodeRegionNotFound, "region %s not found in %s", arrival, loc.Name)
	}
	return w.enter(ctx, s, m, *region, *loc)
}

func (w *Workflow) blocked(m Mover, reason string) {
	w.logger.Info("Movement blocked", "pc_id", m.PC.ID, "client_id", m.ClientID, "reason", reason)
	_ = w.router.SendTo(m.ClientID, protocol.NewMessage(protocol.TypeMovementBlocked, protocol.MovementBlockedPayload{
		PCID:   string(m.PC.ID),
		Reason: reason,
	}))
}

type lookup struct {
	rec     domain.StagingRecord
	hit     bool
	joined  bool
	created *domain.PendingStagingApproval
}

func (w *Workflow) check(s *session.Session, region domain.RegionID, waiter domain.WaitingPc, stored *domain.StagingRecord, open func() *domain.PendingStagingApproval) lookup {
	gameTime := s.GameTime()
	var res lookup
	s.Staging(func(st *session.StagingState) {
		if rec, ok := st.Current(region, gameTime); ok {
			res.rec, res.hit = rec, true
			return
		}
		if stored != nil && stored.IsValidAt(gameTime) {
			st.Put(*stored)
			res.rec, res.hit = *stored, true
			return
		}
		if p, ok := st.Pending(region); ok {
			p.AddWaiter(waiter)
			res.joined = true
			return
		}
		if open != nil {
			p := open()
			st.AddPending(p)
			res.created = p
		}
	})
	return res
}

// enter runs the staging decision for a character arriving in region.
func (w *Workflow) enter(ctx context.Context, s *session.Session, m Mover, region domain.Region, loc domain.Location) error {
	ctx, span := tracer.Start(ctx, "staging.EnterRegion")
	defer span.End()
	span.SetAttributes(attribute.String("region.id", string(region.ID)), attribute.String("session.id", string(s.ID())))

	waiter := m.waiter()

	// Fast path: cached record or an approval already open.
	res := w.check(s, region.ID, waiter, nil, nil)
	if res.hit || res.joined {
		return w.finishLookup(ctx, s, m, region, loc, res)
	}

	var stored *domain.StagingRecord
	if w.store != nil {
		rec, err := w.store.GetCurrent(ctx, region.ID, s.GameTime())
		if err != nil {
			w.logger.Warn("Failed to read stored staging", "region_id", region.ID, "error", err)
		}
		stored = rec
	}

	gameTime := s.GameTime()
	wd := s.World()
	res = w.check(s, region.ID, waiter, stored, func() *domain.PendingStagingApproval {
		return &domain.PendingStagingApproval{
			RequestID:    domain.NewRequestID(),
			WorldID:      wd.ID,
			RegionID:     region.ID,
			RegionName:   region.Name,
			LocationID:   loc.ID,
			LocationName: loc.Name,
			WaitingPcs:   []domain.WaitingPc{waiter},
			CreatedAt:    w.now(),
		}
	})
	if res.hit || res.joined {
		return w.finishLookup(ctx, s, m, region, loc, res)
	}
	pending := res.created
	span.SetAttributes(attribute.String("request.id", string(pending.RequestID)))
	w.logger.Info("Staging approval opened", "session_id", s.ID(), "region_id", region.ID, "request_id", pending.RequestID, "pc_id", m.PC.ID)

	req := domain.ProposalRequest{
		WorldID:         wd.ID,
		RegionID:        region.ID,
		RegionName:      region.Name,
		LocationID:      loc.ID,
		LocationName:    loc.Name,
		GameTime:        gameTime,
		DefaultTTLHours: w.defaultTTL(wd),
	}
	// The proposal serves every waiter, so the first requester leaving must
	// not cancel it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.genWait)
	defer cancel()
	proposal, err := w.gen.Propose(ctx, req)
	if err != nil {
		w.logger.Warn("Proposal generator failed, degrading to rule-based staging",
			"session_id", s.ID(), "region_id", region.ID, "request_id", pending.RequestID, "error", err)
		return w.degrade(ctx, s, pending.RequestID, region, loc)
	}

	var previous *domain.StagingRecord
	if w.store != nil {
		if previous, err = w.store.GetPrevious(ctx, region.ID); err != nil {
			w.logger.Warn("Failed to read previous staging", "region_id", region.ID, "error", err)
		}
	}

	var snapshot domain.PendingStagingApproval
	var open bool
	s.Staging(func(st *session.StagingState) {
		if previous == nil {
			if latest, ok := st.Latest(region.ID); ok {
				previous = &latest
			}
		}
		p, ok := st.PendingByRequest(pending.RequestID)
		if !ok {
			return
		}
		p.Proposal = proposal
		p.Previous = previous
		p.Ready = true
		p.CreatedAt = w.now()
		snapshot = *p
		snapshot.WaitingPcs = append([]domain.WaitingPc(nil), p.WaitingPcs...)
		open = true
	})
	if !open {
		// Resolved while the generator was running, e.g. by a pre-stage.
		return nil
	}

	w.sendPending(m.ClientID, region)
	if n := w.router.SendToDM(s.ID(), w.approvalRequired(snapshot, gameTime, w.defaultTTL(wd))); n == 0 {
		w.logger.Warn("No Director connected to approve staging", "session_id", s.ID(), "request_id", snapshot.RequestID)
	}
	return nil
}

func (w *Workflow) finishLookup(ctx context.Context, s *session.Session, m Mover, region domain.Region, loc domain.Location, res lookup) error {
	if res.hit {
		w.logger.Debug("Staging cache hit", "session_id", s.ID(), "region_id", region.ID, "staging_id", res.rec.ID)
		w.deliver(ctx, s, []domain.WaitingPc{m.waiter()}, region, loc, res.rec.Npcs, res.rec.Source)
		return nil
	}
	w.logger.Info("Joined pending staging", "session_id", s.ID(), "region_id", region.ID, "pc_id", m.PC.ID)
	w.sendPending(m.ClientID, region)
	return nil
}

func (w *Workflow) sendPending(id domain.ClientID, region domain.Region) {
	_ = w.router.SendTo(id, protocol.NewMessage(protocol.TypeStagingPending, protocol.StagingPendingPayload{
		RegionID:       string(region.ID),
		RegionName:     region.Name,
		TimeoutSeconds: w.timeoutSeconds(),
	}))
}

func (w *Workflow) approvalRequired(p domain.PendingStagingApproval, gameTime time.Time, defaultTTL int) protocol.Message {
	return protocol.NewMessage(protocol.TypeStagingApprovalRequired, protocol.StagingApprovalRequiredPayload{
		RequestID:       string(p.RequestID),
		RegionID:        string(p.RegionID),
		RegionName:      p.RegionName,
		LocationID:      string(p.LocationID),
		LocationName:    p.LocationName,
		GameTime:        gameTime,
		RuleBasedNpcs:   nonNil(p.Proposal.RuleBased),
		GeneratedNpcs:   nonNil(p.Proposal.Generated),
		PreviousStaging: p.Previous,
		WaitingPcs:      p.WaitingPcs,
		DefaultTTLHours: defaultTTL,
		TimeoutSeconds:  w.timeoutSeconds(),
	})
}

// degrade resolves a pending approval with rule-only NPCs, without Director
// involvement and without creating a record.
func (w *Workflow) degrade(ctx context.Context, s *session.Session, requestID domain.RequestID, region domain.Region, loc domain.Location) error {
	var waiters []domain.WaitingPc
	s.Staging(func(st *session.StagingState) {
		if p, ok := st.TakePending(requestID); ok {
			waiters = p.WaitingPcs
		}
	})
	if len(waiters) == 0 {
		return nil
	}

	npcs, err := w.rules.Suggest(ctx, region.ID)
	if err != nil {
		w.logger.Warn("Rule-based staging failed, delivering empty scene", "region_id", region.ID, "error", err)
		npcs = nil
	}
	w.publish(ctx, events.StagingDegraded, s.WorldID(), s.ID(), map[string]any{
		"region_id": string(region.ID),
		"npcs":      len(npcs),
		"waiting":   len(waiters),
	})
	w.deliver(ctx, s, waiters, region, loc, npcs, domain.SourceRuleBased)
	return nil
}

func nonNil(npcs []domain.NpcPresence) []domain.NpcPresence {
	if npcs == nil {
		return []domain.NpcPresence{}
	}
	return npcs
}
