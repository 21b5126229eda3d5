// Package staging decides which NPCs are present in a region, gating new
// stagings behind Director approval and caching approved ones for a
// game-time TTL.
package staging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/events"
	"github.com/ashureev/tablestage/internal/protocol"
	"github.com/ashureev/tablestage/internal/world"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/ashureev/tablestage/internal/staging")

const (
	maxTTLHours      = 24 * 30
	persistTimeout   = 10 * time.Second
	generatorTimeout = 30 * time.Second
	fallbackTTL      = 3
	systemApprover   = "system"
)

// Generator produces proposals. Calls may be slow and are never made while
// a session lock is held.
type Generator interface {
	Propose(ctx context.Context, req domain.ProposalRequest) (domain.Proposal, error)
	Regenerate(ctx context.Context, req domain.ProposalRequest) ([]domain.NpcPresence, error)
}

// Rules computes rule-only presence lists for the degrade path.
type Rules interface {
	Suggest(ctx context.Context, region domain.RegionID) ([]domain.NpcPresence, error)
}

// Store persists staging records.
type Store interface {
	Approve(ctx context.Context, rec domain.StagingRecord) error
	PreStage(ctx context.Context, rec domain.StagingRecord) error
	GetCurrent(ctx context.Context, region domain.RegionID, gameTime time.Time) (*domain.StagingRecord, error)
	GetPrevious(ctx context.Context, region domain.RegionID) (*domain.StagingRecord, error)
}

// Router delivers messages.
type Router interface {
	SendTo(id domain.ClientID, msg protocol.Message) error
	SendToDM(sid domain.SessionID, msg protocol.Message) int
}

// Deps are the collaborators of a Workflow.
type Deps struct {
	World     world.Repository
	Generator Generator
	Rules     Rules
	Store     Store
	Router    Router
	Events    events.Publisher
	Logger    *slog.Logger
}

// Config tunes the workflow.
type Config struct {
	// ApprovalTimeout auto-approves pending stagings with their rule-based
	// candidates once exceeded. Zero disables it.
	ApprovalTimeout time.Duration
	// DefaultTTLHours applies to worlds that do not set their own.
	DefaultTTLHours int
	// GeneratorTimeout bounds a proposal call. It is not tied to the
	// requesting connection since the result is shared by every waiter.
	GeneratorTimeout time.Duration
}

// Workflow runs the staging state machine for all sessions.
type Workflow struct {
	world   world.Repository
	gen     Generator
	rules   Rules
	store   Store
	router  Router
	events  events.Publisher
	logger  *slog.Logger
	timeout time.Duration
	genWait time.Duration
	ttl     int
	now     func() time.Time

	persisting sync.WaitGroup
}

// New creates a workflow.
func New(deps Deps, cfg Config) *Workflow {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	genWait := cfg.GeneratorTimeout
	if genWait <= 0 {
		genWait = generatorTimeout
	}
	return &Workflow{
		world:   deps.World,
		gen:     deps.Generator,
		rules:   deps.Rules,
		store:   deps.Store,
		router:  deps.Router,
		events:  pub,
		logger:  logger,
		timeout: cfg.ApprovalTimeout,
		genWait: genWait,
		ttl:     cfg.DefaultTTLHours,
		now:     time.Now,
	}
}

// Wait blocks until background persistence has finished.
func (w *Workflow) Wait() {
	w.persisting.Wait()
}

func (w *Workflow) timeoutSeconds() int {
	return int(w.timeout / time.Second)
}

func (w *Workflow) publish(ctx context.Context, typ string, worldID domain.WorldID, sid domain.SessionID, payload map[string]any) {
	if err := w.events.Publish(ctx, events.New(typ, string(worldID), string(sid), payload)); err != nil {
		w.logger.Warn("Failed to publish event", "event_type", typ, "session_id", sid, "error", err)
	}
}

// persist writes rec in the background. Delivery never waits for it.
func (w *Workflow) persist(rec domain.StagingRecord) {
	if w.store == nil {
		return
	}
	w.persisting.Add(1)
	go func() {
		defer w.persisting.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		var err error
		if rec.Source == domain.SourcePreStaged {
			err = w.store.PreStage(ctx, rec)
		} else {
			err = w.store.Approve(ctx, rec)
		}
		if err != nil {
			w.logger.Warn("Failed to persist staging", "staging_id", rec.ID, "region_id", rec.RegionID, "error", err)
			return
		}
		w.logger.Debug("Staging persisted", "staging_id", rec.ID, "region_id", rec.RegionID, "source", rec.Source)
	}()
}

// defaultTTL is the TTL used when the Director does not pick one.
func (w *Workflow) defaultTTL(wd domain.World) int {
	switch {
	case wd.DefaultTTLHours > 0:
		return wd.DefaultTTLHours
	case w.ttl > 0:
		return w.ttl
	}
	return fallbackTTL
}

func validateTTL(ttl, fallback int) (int, error) {
	switch {
	case ttl < 0 || ttl > maxTTLHours:
		return 0, domain.Validation(domain.CodeInvalidTTL, "ttl_hours must be between 1 and %d", maxTTLHours)
	case ttl == 0:
		return fallback, nil
	}
	return ttl, nil
}
