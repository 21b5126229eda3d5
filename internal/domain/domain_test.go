package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStagingRecordValidity(t *testing.T) {
	start := time.Date(1024, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := StagingRecord{ApprovedAt: start, TTLHours: 3}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"at approval", start, true},
		{"one hour later", start.Add(time.Hour), true},
		{"just before expiry", start.Add(3*time.Hour - time.Second), true},
		{"at expiry", start.Add(3 * time.Hour), false},
		{"after expiry", start.Add(4 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rec.IsValidAt(tc.at); got != tc.want {
				t.Errorf("IsValidAt(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestVisibleNpcs(t *testing.T) {
	npcs := []NpcPresence{
		{Name: "Mira", IsPresent: true},
		{Name: "Spy", IsPresent: true, IsHiddenFromPlayers: true},
		{Name: "Absent", IsPresent: false},
	}
	got := VisibleNpcs(npcs)
	if len(got) != 1 || got[0].Name != "Mira" {
		t.Fatalf("VisibleNpcs = %+v, want only Mira", got)
	}
}

func TestParseIDs(t *testing.T) {
	if _, err := ParseWorldID("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed world id")
	} else if AsError(err).Code != CodeInvalidWorldID {
		t.Errorf("code = %s, want %s", AsError(err).Code, CodeInvalidWorldID)
	}

	id, err := ParseRegionID("  6F1C2B7E-8E0A-4C55-9C57-3B0C1B9B6A10 ")
	if err != nil {
		t.Fatalf("ParseRegionID: %v", err)
	}
	if id != "6f1c2b7e-8e0a-4c55-9c57-3b0c1b9b6a10" {
		t.Errorf("id not canonicalized: %s", id)
	}

	if _, err := ValidateUserID("bad user"); err == nil {
		t.Error("expected error for user id with space")
	}
}

func TestParseRole(t *testing.T) {
	for raw, want := range map[string]Role{"DM": RoleDirector, "player": RolePlayer, "Spectator": RoleSpectator} {
		got, err := ParseRole(raw)
		if err != nil || got != want {
			t.Errorf("ParseRole(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseRole("narrator"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestErrorIsByCode(t *testing.T) {
	err := fmt.Errorf("approve: %w", StateError(CodeStagingNotFound, "request %s", "x"))
	if !errors.Is(err, ErrStagingNotFound) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, ErrNotAuthorized) {
		t.Error("errors.Is matched a different code")
	}
	if got := AsError(errors.New("boom")); got.Code != CodeInternal {
		t.Errorf("unclassified code = %s, want INTERNAL", got.Code)
	}
}

func TestAddWaiterDeduplicates(t *testing.T) {
	p := &PendingStagingApproval{}
	if !p.AddWaiter(WaitingPc{PCID: "a"}) {
		t.Fatal("first add should succeed")
	}
	if p.AddWaiter(WaitingPc{PCID: "a"}) {
		t.Fatal("duplicate add should be rejected")
	}
	if len(p.WaitingPcs) != 1 {
		t.Fatalf("waiters = %d, want 1", len(p.WaitingPcs))
	}
}
