package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/session"
	"github.com/ashureev/tablestage/internal/staging"
)

func info(p domain.Participant) protocol.ParticipantInfo {
	return protocol.ParticipantInfo{UserID: p.UserID, Role: string(p.Role), CharacterName: p.CharacterName}
}

func (e *Engine) join(ctx context.Context, id domain.ClientID, msg protocol.JoinSession) error {
	worldID, err := domain.ParseWorldID(msg.WorldID)
	if err != nil {
		return err
	}
	role, err := domain.ParseRole(msg.Role)
	if err != nil {
		return err
	}
	conn, ok := e.reg.Connection(id)
	if !ok {
		return domain.ErrNotInSession
	}
	userID := conn.UserID
	if msg.UserID != "" {
		if userID, err = domain.ValidateUserID(msg.UserID); err != nil {
			return err
		}
	}
	if userID == "" {
		return domain.Validation(domain.CodeInvalidUserID, "user_id is required")
	}

	w, err := e.world.World(ctx, worldID)
	if err != nil {
		return fmt.Errorf("load world: %w", err)
	}
	if w == nil {
		return domain.NotFound(domain.CodeWorldNotFound, "world %s not found", worldID)
	}

	res, err := e.reg.Join(id, userID, role, *w)
	if err != nil {
		return err
	}
	if res.Left != nil {
		e.announceLeave(ctx, res.Left)
	}
	s := res.Session

	participants := make([]protocol.ParticipantInfo, 0, len(res.Others)+1)
	for _, p := range s.Participants() {
		participants = append(participants, info(p))
	}
	_ = e.router.SendTo(id, protocol.NewMessage(protocol.TypeSessionJoined, protocol.SessionJoinedPayload{
		SessionID:    string(s.ID()),
		WorldID:      string(w.ID),
		WorldName:    w.Name,
		Role:         string(role),
		Participants: participants,
		GameTime:     s.GameTime(),
	}))
	e.router.BroadcastExcept(s.ID(), protocol.NewMessage(protocol.TypePlayerJoined, info(res.Participant)), id)

	if role == domain.RoleDirector {
		for _, m := range e.staging.PendingApprovals(s) {
			_ = e.router.SendTo(id, m)
		}
	}
	e.publish(ctx, events.SessionJoined, s, map[string]any{
		"user_id": userID,
		"role":    string(role),
	})
	return nil
}

func (e *Engine) leave(ctx context.Context, id domain.ClientID) error {
	left, ok := e.reg.Leave(id)
	if !ok {
		return domain.ErrNotInSession
	}
	e.announceLeave(ctx, left)
	return nil
}

func (e *Engine) announceLeave(ctx context.Context, left *session.LeaveResult) {
	e.router.BroadcastAll(left.Session.ID(), protocol.NewMessage(protocol.TypePlayerLeft, info(left.Participant)))
	e.publish(ctx, events.SessionLeft, left.Session, map[string]any{
		"user_id": left.Participant.UserID,
		"role":    string(left.Participant.Role),
	})
}

// playerCharacter loads a PC of the session's world that p may control.
func (e *Engine) playerCharacter(ctx context.Context, s *session.Session, p domain.Participant, raw string) (domain.PlayerCharacter, error) {
	pcID, err := domain.ParsePlayerCharacterID(raw)
	if err != nil {
		return domain.PlayerCharacter{}, err
	}
	pc, err := e.world.PlayerCharacter(ctx, pcID)
	if err != nil {
		return domain.PlayerCharacter{}, fmt.Errorf("load player character: %w", err)
	}
	if pc == nil || pc.WorldID != s.WorldID() {
		return domain.PlayerCharacter{}, domain.NotFound(domain.CodePCNotFound, "player character %s not found", pcID)
	}
	if !p.IsDirector() && pc.UserID != p.UserID {
		return domain.PlayerCharacter{}, domain.Unauthorized("%s does not control %s", p.UserID, pc.Name)
	}
	return *pc, nil
}

func (e *Engine) selectCharacter(ctx context.Context, id domain.ClientID, msg protocol.SelectCharacter) error {
	s, p, err := e.participant(id)
	if err != nil {
		return err
	}
	if p.Role == domain.RoleSpectator {
		return domain.Unauthorized("spectators cannot control characters")
	}
	pc, err := e.playerCharacter(ctx, s, p, msg.PCID)
	if err != nil {
		return err
	}
	s, updated, err := e.reg.SelectCharacter(id, pc)
	if err != nil {
		return err
	}

	region := e.currentRegion(s, pc)
	location := pc.LocationID
	if r, err := e.world.Region(ctx, region); err == nil && r != nil {
		location = r.LocationID
	}
	_ = e.router.SendTo(id, protocol.NewMessage(protocol.TypeCharacterSelected, protocol.CharacterSelectedPayload{
		PCID:       string(pc.ID),
		Name:       pc.Name,
		LocationID: string(location),
		RegionID:   string(region),
	}))
	e.router.BroadcastExcept(s.ID(), protocol.NewMessage(protocol.TypeParticipantUpdated, info(updated)), id)
	e.publish(ctx, events.CharacterSelected, s, map[string]any{
		"user_id": p.UserID,
		"pc_id":   string(pc.ID),
	})
	return nil
}

func (e *Engine) currentRegion(s *session.Session, pc domain.PlayerCharacter) domain.RegionID {
	region, ok := s.Position(pc.ID)
	if !ok {
		region = pc.RegionID
		s.SetPosition(pc.ID, region)
	}
	return region
}

func (e *Engine) mover(ctx context.Context, id domain.ClientID, rawPC string) (*session.Session, staging.Mover, error) {
	s, p, err := e.participant(id)
	if err != nil {
		return nil, staging.Mover{}, err
	}
	if p.Role == domain.RoleSpectator {
		return nil, staging.Mover{}, domain.Unauthorized("spectators cannot move characters")
	}
	pc, err := e.playerCharacter(ctx, s, p, rawPC)
	if err != nil {
		return nil, staging.Mover{}, err
	}
	e.currentRegion(s, pc)
	return s, staging.Mover{ClientID: id, UserID: p.UserID, PC: pc}, nil
}

func (e *Engine) moveToRegion(ctx context.Context, id domain.ClientID, msg protocol.MoveToRegion) error {
	regionID, err := domain.ParseRegionID(msg.RegionID)
	if err != nil {
		return err
	}
	s, m, err := e.mover(ctx, id, msg.PCID)
	if err != nil {
		return err
	}
	return e.staging.MoveToRegion(ctx, s, m, regionID)
}

func (e *Engine) exitToLocation(ctx context.Context, id domain.ClientID, msg protocol.ExitToLocation) error {
	locationID, err := domain.ParseLocationID(msg.LocationID)
	if err != nil {
		return err
	}
	var arrival domain.RegionID
	if msg.ArrivalRegionID != "" {
		if arrival, err = domain.ParseRegionID(msg.ArrivalRegionID); err != nil {
			return err
		}
	}
	s, m, err := e.mover(ctx, id, msg.PCID)
	if err != nil {
		return err
	}
	return e.staging.ExitToLocation(ctx, s, m, locationID, arrival)
}

func (e *Engine) advanceTime(ctx context.Context, id domain.ClientID, msg protocol.AdvanceTime) error {
	s, p, err := e.participant(id)
	if err != nil {
		return err
	}
	if !p.IsDirector() {
		return domain.ErrNotAuthorized
	}
	if msg.Hours <= 0 {
		return domain.Validation(domain.CodeInvalidMessage, "hours must be positive")
	}
	now := s.AdvanceTime(time.Duration(msg.Hours) * time.Hour)
	e.logger.Info("Game time advanced", "session_id", s.ID(), "hours", msg.Hours, "game_time", now)
	e.router.BroadcastAll(s.ID(), protocol.NewMessage(protocol.TypeGameTimeUpdated, protocol.GameTimeUpdatedPayload{GameTime: now}))
	e.publish(ctx, events.TimeAdvanced, s, map[string]any{
		"hours":     msg.Hours,
		"game_time": now.Format(time.RFC3339),
	})
	return nil
}
