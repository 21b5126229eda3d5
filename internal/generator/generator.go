package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/ashureev/tablestage/internal/generator")

// ErrUnavailable is returned when the remote generator cannot serve.
var ErrUnavailable = errors.New("proposal generator unavailable")

// Remote produces generated presence candidates for a region.
type Remote interface {
	Generate(ctx context.Context, req domain.ProposalRequest, candidates []domain.RegionNpc) ([]domain.NpcPresence, error)
}

// Generator builds proposals from the rule engine and an optional remote
// generator. Without a remote, the generated list is empty and the
// Director chooses from rule-based candidates.
type Generator struct {
	repo   world.Repository
	remote Remote
}

// New creates a proposal generator. remote may be nil.
func New(repo world.Repository, remote Remote) *Generator {
	return &Generator{repo: repo, remote: remote}
}

// Propose returns both candidate lists. A remote failure is returned so the
// caller can degrade to rule-only staging.
func (g *Generator) Propose(ctx context.Context, req domain.ProposalRequest) (domain.Proposal, error) {
	ctx, span := tracer.Start(ctx, "generator.Propose")
	defer span.End()
	span.SetAttributes(
		attribute.String("region.id", string(req.RegionID)),
		attribute.Bool("guidance", req.Guidance != ""),
	)

	npcs, err := g.repo.RegionNpcs(ctx, req.RegionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load region npcs")
		return domain.Proposal{}, fmt.Errorf("load region npcs: %w", err)
	}
	proposal := domain.Proposal{RuleBased: Suggestions(npcs), Generated: []domain.NpcPresence{}}
	if g.remote == nil {
		return proposal, nil
	}

	generated, err := g.remote.Generate(ctx, req, npcs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote generate")
		return domain.Proposal{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	proposal.Generated = generated
	span.SetAttributes(attribute.Int("npcs.generated", len(generated)))
	return proposal, nil
}

// Regenerate returns only fresh generated candidates for guidance.
func (g *Generator) Regenerate(ctx context.Context, req domain.ProposalRequest) ([]domain.NpcPresence, error) {
	p, err := g.Propose(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Generated, nil
}
