package engine

import (
	"context"
	"errors"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/queue"
	"github.com/ashureev/tablestage/internal/session"
	"github.com/ashureev/tablestage/internal/store"
)

type actionInput struct {
	ActionType string
	Target     *string
	Dialogue   *string
}

func (e *Engine) playerAction(_ context.Context, id domain.ClientID, msg protocol.PlayerAction) error {
	s, p, err := e.participant(id)
	if err != nil {
		return err
	}
	if p.Role == domain.RoleSpectator {
		return domain.Unauthorized("spectators cannot act")
	}
	e.enqueue(s, p, e.players, actionInput(msg), false)
	return nil
}

func (e *Engine) directorAction(_ context.Context, id domain.ClientID, msg protocol.DirectorAction) error {
	s, p, err := e.participant(id)
	if err != nil {
		return err
	}
	if !p.IsDirector() {
		return domain.ErrNotAuthorized
	}
	e.enqueue(s, p, e.director, actionInput(msg), true)
	return nil
}

// enqueue hands the action to q and acknowledges it without waiting for
// any processing.
func (e *Engine) enqueue(s *session.Session, p domain.Participant, q *queue.Queue, in actionInput, fromDM bool) {
	id := p.ClientID
	conn, _ := e.reg.Connection(id)

	req := domain.ActionRequest{
		ActionID:   domain.NewActionID(),
		SessionID:  s.ID(),
		WorldID:    s.WorldID(),
		PlayerID:   p.UserID,
		ClientID:   id,
		ActionType: in.ActionType,
		Target:     in.Target,
		Dialogue:   in.Dialogue,
		FromDM:     fromDM,
		QueuedAt:   e.now(),
	}
	if conn.SelectedPC != "" {
		pc := conn.SelectedPC
		req.PCID = &pc
	}

	depth := q.Enqueue(req)
	_ = e.router.SendTo(id, protocol.NewMessage(protocol.TypeActionReceived, protocol.ActionReceivedPayload{
		ActionID:   string(req.ActionID),
		ActionType: req.ActionType,
	}))
	e.router.SendToDM(s.ID(), protocol.NewMessage(protocol.TypeActionQueued, protocol.ActionQueuedPayload{
		ActionID:   string(req.ActionID),
		PlayerID:   req.PlayerID,
		ActionType: req.ActionType,
		Queue:      q.Name(),
		Depth:      depth,
	}))
}

// processAction is the default processor: it logs the action and
// announces it on the event stream.
func (e *Engine) processAction(ctx context.Context, req domain.ActionRequest) error {
	if e.actions != nil {
		err := e.actions.RecordAction(ctx, store.ActionEntry{
			Request:     req,
			Status:      store.ActionProcessed,
			ProcessedAt: e.now(),
		})
		if err != nil {
			return domain.StateError(domain.CodeActionFailed, "action %s could not be recorded", req.ActionID).Wrap(err)
		}
	}
	e.publishAction(ctx, events.ActionProcessed, req, nil)
	return nil
}

// actionFailed reports a failed action to its submitter, if still connected.
func (e *Engine) actionFailed(req domain.ActionRequest, err error) {
	ctx := context.Background()
	var de *domain.Error
	if !errors.As(err, &de) || de.Code != domain.CodeActionFailed {
		err = domain.StateError(domain.CodeActionFailed, "action %s failed", req.ActionID).Wrap(err)
	}
	if e.actions != nil {
		if rerr := e.actions.RecordAction(ctx, store.ActionEntry{
			Request:     req,
			Status:      store.ActionFailed,
			Error:       err.Error(),
			ProcessedAt: e.now(),
		}); rerr != nil {
			e.logger.Warn("Failed to record failed action", "action_id", req.ActionID, "error", rerr)
		}
	}
	if serr := e.router.SendTo(req.ClientID, protocol.ErrorMessage(err)); serr != nil {
		e.logger.Debug("Submitter gone before action failure was reported", "action_id", req.ActionID, "client_id", req.ClientID)
	}
	e.publishAction(ctx, events.ActionFailed, req, err)
}

func (e *Engine) publishAction(ctx context.Context, typ string, req domain.ActionRequest, cause error) {
	payload := map[string]any{
		"action_id":   string(req.ActionID),
		"player_id":   req.PlayerID,
		"action_type": req.ActionType,
		"from_dm":     req.FromDM,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	if err := e.events.Publish(ctx, events.New(typ, string(req.WorldID), string(req.SessionID), payload)); err != nil {
		e.logger.Warn("Failed to publish event", "event_type", typ, "action_id", req.ActionID, "error", err)
	}
}
