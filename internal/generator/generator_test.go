package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/world"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	tavern = domain.RegionID("1d2e3f40-5a6b-4c7d-8e9f-0a1b2c3d4e5f")
	mira   = domain.CharacterID("a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d")
)

func loadCatalog(t *testing.T) *world.Catalog {
	t.Helper()
	c, err := world.LoadCatalog("../world/testdata/world.yaml")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	return c
}

type fakeRemote struct {
	npcs  []domain.NpcPresence
	err   error
	calls int
	last  domain.ProposalRequest
}

func (f *fakeRemote) Generate(_ context.Context, req domain.ProposalRequest, _ []domain.RegionNpc) ([]domain.NpcPresence, error) {
	f.calls++
	f.last = req
	return f.npcs, f.err
}

func TestRuleBasedSuggestions(t *testing.T) {
	got, err := NewRuleBased(loadCatalog(t)).Suggest(context.Background(), tavern)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"Mira":    "Works here (evening shift)",
		"Old Tom": "Lives here",
		"Sly":     "Frequents this area (often)",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d suggestions, want %d: %+v", len(got), len(want), got)
	}
	for _, n := range got {
		if want[n.Name] != n.Reasoning {
			t.Errorf("%s reasoning = %q, want %q", n.Name, n.Reasoning, want[n.Name])
		}
		if !n.IsPresent {
			t.Errorf("%s should be present", n.Name)
		}
	}
}

func TestSuggestionsExcludeAvoiders(t *testing.T) {
	ch := domain.Character{ID: "c", Name: "Hale"}
	got := Suggestions([]domain.RegionNpc{
		{Character: ch, Relation: domain.NpcRegionRelation{Relation: domain.RelationWorksAt}},
		{Character: ch, Relation: domain.NpcRegionRelation{Relation: domain.RelationAvoids}},
	})
	if len(got) != 0 {
		t.Errorf("avoiding NPC suggested: %+v", got)
	}
}

func TestProposeWithoutRemote(t *testing.T) {
	g := New(loadCatalog(t), nil)
	p, err := g.Propose(context.Background(), domain.ProposalRequest{RegionID: tavern})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.RuleBased) != 3 || len(p.Generated) != 0 {
		t.Errorf("proposal = %d rule / %d generated", len(p.RuleBased), len(p.Generated))
	}
}

func TestProposeRemoteFailure(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	g := New(loadCatalog(t), remote)
	_, err := g.Propose(context.Background(), domain.ProposalRequest{RegionID: tavern, Guidance: "spooky"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if remote.last.Guidance != "spooky" {
		t.Errorf("guidance not forwarded: %q", remote.last.Guidance)
	}
}

func TestRegenerateReturnsGeneratedOnly(t *testing.T) {
	remote := &fakeRemote{npcs: []domain.NpcPresence{{CharacterID: mira, Name: "Mira", IsPresent: true}}}
	g := New(loadCatalog(t), remote)
	got, err := g.Regenerate(context.Background(), domain.ProposalRequest{RegionID: tavern})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].CharacterID != mira {
		t.Errorf("Regenerate = %+v", got)
	}
}

func TestDecodeResponseFiltersUnknown(t *testing.T) {
	candidates := []domain.RegionNpc{{Character: domain.Character{ID: mira, Name: "Mira", DefaultMood: "cheerful"}}}
	out, err := structpb.NewStruct(map[string]any{
		"npcs": []any{
			map[string]any{"character_id": string(mira), "is_present": true, "reasoning": "busy night"},
			map[string]any{"character_id": "d4e5f6a7-b8c9-4d0e-1f2a-3b4c5d6e7f80", "is_present": true},
			map[string]any{"character_id": "garbage"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeResponse(out, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("decoded %d npcs, want 1", len(got))
	}
	if got[0].Mood != "cheerful" || got[0].Reasoning != "busy night" {
		t.Errorf("decoded = %+v", got[0])
	}

	if _, err := decodeResponse(&structpb.Struct{}, candidates); err == nil {
		t.Error("expected error for response without npcs")
	}
}

func TestEncodeRequest(t *testing.T) {
	s, err := encodeRequest(domain.ProposalRequest{RegionID: tavern, DefaultTTLHours: 3, Guidance: "quiet"},
		[]domain.RegionNpc{{Character: domain.Character{ID: mira, Name: "Mira"}}})
	if err != nil {
		t.Fatal(err)
	}
	f := s.GetFields()
	if f["guidance"].GetStringValue() != "quiet" || f["default_ttl_hours"].GetNumberValue() != 3 {
		t.Errorf("encoded = %v", s)
	}
	if n := len(f["candidates"].GetListValue().GetValues()); n != 1 {
		t.Errorf("candidates = %d", n)
	}
}
