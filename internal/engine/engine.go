// Package engine dispatches inbound client messages to the session
// registry, the action queues and the staging workflow.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/queue"
	"github.com/ashureev/tablestage/internal/session"
	"github.com/ashureev/tablestage/internal/staging"
	"github.com/ashureev/tablestage/internal/store"
	"github.com/ashureev/tablestage/internal/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/ashureev/tablestage/internal/engine")

// ActionLog records processed actions.
type ActionLog interface {
	RecordAction(ctx context.Context, entry store.ActionEntry) error
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Registry *session.Registry
	Router   *session.Router
	World    world.Repository
	Staging  *staging.Workflow
	Actions  ActionLog
	Events   events.Publisher
	Logger   *slog.Logger

	// Processor overrides the default action processor.
	Processor queue.Processor
	// Workers is the number of workers per queue. Values above one give
	// up strict submission order.
	Workers int
}

// Engine owns the per-process orchestration.
type Engine struct {
	reg      *session.Registry
	router   *session.Router
	world    world.Repository
	staging  *staging.Workflow
	actions  ActionLog
	events   events.Publisher
	logger   *slog.Logger
	players  *queue.Queue
	director *queue.Queue
	workers  int
	now      func() time.Time
}

// New wires an engine.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	e := &Engine{
		reg:     deps.Registry,
		router:  deps.Router,
		world:   deps.World,
		staging: deps.Staging,
		actions: deps.Actions,
		events:  pub,
		logger:  logger,
		workers: deps.Workers,
		now:     time.Now,
	}
	if e.workers < 1 {
		e.workers = 1
	}
	proc := deps.Processor
	if proc == nil {
		proc = queue.ProcessorFunc(e.processAction)
	}
	opts := []queue.Option{queue.WithFailureHandler(e.actionFailed), queue.WithLogger(logger)}
	e.players = queue.New(queue.PlayerQueue, proc, opts...)
	e.director = queue.New(queue.DirectorQueue, proc, opts...)
	return e
}

// Run drives the action queues until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error { return e.players.Run(ctx) })
		g.Go(func() error { return e.director.Run(ctx) })
	}
	return g.Wait()
}

// QueueDepths reports the backlog of each queue.
func (e *Engine) QueueDepths() map[string]int {
	return map[string]int{
		queue.PlayerQueue:   e.players.Depth(),
		queue.DirectorQueue: e.director.Depth(),
	}
}

// Connect registers a new client.
func (e *Engine) Connect(userID string, sink session.Sink) domain.ClientID {
	return e.reg.Register(userID, sink)
}

// Disconnect leaves the client's session, if any, and forgets the client.
// Waiting-list entries it already holds stay in place.
func (e *Engine) Disconnect(ctx context.Context, id domain.ClientID) {
	if left, ok := e.reg.Leave(id); ok {
		e.announceLeave(ctx, left)
	}
	e.reg.Unregister(id)
}

// Handle processes one inbound frame. Failures are reported to the sender
// only.
func (e *Engine) Handle(ctx context.Context, id domain.ClientID, in protocol.Inbound) {
	ctx, span := tracer.Start(ctx, "engine.Handle", trace.WithAttributes(
		attribute.String("message.type", in.Type),
		attribute.String("client.id", string(id)),
	))
	defer span.End()

	if err := e.dispatch(ctx, id, in); err != nil {
		span.RecordError(err)
		if domain.AsError(err).Kind == domain.KindInternal {
			span.SetStatus(codes.Error, err.Error())
		}
		e.fail(id, in.Type, err)
	}
}

// Reject reports a frame that could not be decoded.
func (e *Engine) Reject(id domain.ClientID, err error) {
	e.fail(id, "", err)
}

func (e *Engine) fail(id domain.ClientID, typ string, err error) {
	de := domain.AsError(err)
	if de.Kind == domain.KindInternal {
		e.logger.Error("Message handling failed", "client_id", id, "type", typ, "error", err)
	} else {
		e.logger.Debug("Message rejected", "client_id", id, "type", typ, "code", de.Code, "error", err)
	}
	_ = e.router.SendTo(id, protocol.ErrorMessage(err))
}

func (e *Engine) dispatch(ctx context.Context, id domain.ClientID, in protocol.Inbound) error {
	switch p := in.Payload.(type) {
	case protocol.JoinSession:
		return e.join(ctx, id, p)
	case protocol.LeaveSession:
		return e.leave(ctx, id)
	case protocol.SelectCharacter:
		return e.selectCharacter(ctx, id, p)
	case protocol.PlayerAction:
		return e.playerAction(ctx, id, p)
	case protocol.DirectorAction:
		return e.directorAction(ctx, id, p)
	case protocol.MoveToRegion:
		return e.moveToRegion(ctx, id, p)
	case protocol.ExitToLocation:
		return e.exitToLocation(ctx, id, p)
	case protocol.AdvanceTime:
		return e.advanceTime(ctx, id, p)
	case protocol.StagingApprovalResponse:
		s, dm, err := e.participant(id)
		if err != nil {
			return err
		}
		return e.staging.Approve(ctx, s, dm, p)
	case protocol.StagingRegenerateRequest:
		s, dm, err := e.participant(id)
		if err != nil {
			return err
		}
		return e.staging.Regenerate(ctx, s, dm, p)
	case protocol.PreStageRegion:
		s, dm, err := e.participant(id)
		if err != nil {
			return err
		}
		return e.staging.PreStage(ctx, s, dm, p)
	case protocol.Ping:
		return e.router.SendTo(id, protocol.NewMessage(protocol.TypePong, nil))
	}
	return domain.Validation(domain.CodeInvalidMessage, "unsupported message type %q", in.Type)
}

// participant resolves the session and participant of a client.
func (e *Engine) participant(id domain.ClientID) (*session.Session, domain.Participant, error) {
	s, ok := e.reg.SessionOf(id)
	if !ok {
		return nil, domain.Participant{}, domain.ErrNotInSession
	}
	p, ok := s.Participant(id)
	if !ok {
		return nil, domain.Participant{}, domain.ErrNotInSession
	}
	return s, p, nil
}

func (e *Engine) publish(ctx context.Context, typ string, s *session.Session, payload map[string]any) {
	if err := e.events.Publish(ctx, events.New(typ, string(s.WorldID()), string(s.ID()), payload)); err != nil {
		e.logger.Warn("Failed to publish event", "event_type", typ, "session_id", s.ID(), "error", err)
	}
}
