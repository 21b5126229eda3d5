package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/protocol"
)

var testWorld = domain.World{
	ID:              "0b6f2d36-5a0e-4c34-8a59-0d7d1c6a1a01",
	Name:            "Saltmarsh",
	StartTime:       time.Date(1024, 3, 1, 9, 0, 0, 0, time.UTC),
	DefaultTTLHours: 3,
}

func join(t *testing.T, reg *Registry, user string, role domain.Role) (domain.ClientID, *Recorder, JoinResult) {
	t.Helper()
	rec := &Recorder{}
	id := reg.Register(user, rec)
	res, err := reg.Join(id, user, role, testWorld)
	if err != nil {
		t.Fatalf("Join(%s): %v", user, err)
	}
	return id, rec, res
}

func TestJoinCreatesThenAttaches(t *testing.T) {
	reg := NewRegistry(nil)
	_, _, first := join(t, reg, "dm", domain.RoleDirector)
	_, _, second := join(t, reg, "alice", domain.RolePlayer)

	if first.Session != second.Session {
		t.Fatal("second join should attach to the existing session")
	}
	if len(first.Others) != 0 {
		t.Errorf("first joiner saw %d others", len(first.Others))
	}
	if len(second.Others) != 1 || second.Others[0].UserID != "dm" {
		t.Errorf("second joiner others = %+v", second.Others)
	}
	if got := len(reg.Sessions()); got != 1 {
		t.Errorf("sessions = %d, want 1", got)
	}
}

func TestJoinTwiceSameRole(t *testing.T) {
	reg := NewRegistry(nil)
	id, _, _ := join(t, reg, "alice", domain.RolePlayer)
	_, err := reg.Join(id, "alice", domain.RolePlayer, testWorld)
	if domain.AsError(err).Code != domain.CodeAlreadyInSession {
		t.Fatalf("err = %v, want ALREADY_IN_SESSION", err)
	}
}

func TestRejoinWithDifferentRoleCreatesNewParticipant(t *testing.T) {
	reg := NewRegistry(nil)
	id, _, first := join(t, reg, "alice", domain.RolePlayer)

	res, err := reg.Join(id, "alice", domain.RoleSpectator, testWorld)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if res.Left == nil || res.Left.Participant.Role != domain.RolePlayer {
		t.Fatalf("expected implicit leave of player participant, got %+v", res.Left)
	}
	if res.Session != first.Session {
		t.Fatal("rejoin should land in the same world session")
	}
	ps := res.Session.Participants()
	if len(ps) != 1 || ps[0].Role != domain.RoleSpectator {
		t.Errorf("participants = %+v", ps)
	}
}

func TestLeaveAndUnregister(t *testing.T) {
	reg := NewRegistry(nil)
	id, _, res := join(t, reg, "alice", domain.RolePlayer)

	left, ok := reg.Leave(id)
	if !ok || left.Participant.UserID != "alice" {
		t.Fatalf("Leave = %+v, %v", left, ok)
	}
	if _, ok := reg.Leave(id); ok {
		t.Error("second Leave should report nothing")
	}
	if len(res.Session.Participants()) != 0 {
		t.Error("participant still present after leave")
	}
	if _, ok := reg.SessionOf(id); ok {
		t.Error("client still indexed to session")
	}

	reg.Unregister(id)
	if _, ok := reg.Connection(id); ok {
		t.Error("connection still registered")
	}
	reg.Unregister(id)
}

func TestRouterTargets(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, nil)
	_, dmRec, res := join(t, reg, "dm", domain.RoleDirector)
	alice, aliceRec, _ := join(t, reg, "alice", domain.RolePlayer)
	_, bobRec, _ := join(t, reg, "bob", domain.RolePlayer)
	sid := res.Session.ID()

	msg := protocol.NewMessage(protocol.TypeGameTimeUpdated, nil)
	if n := router.SendToDM(sid, msg); n != 1 {
		t.Errorf("SendToDM delivered %d, want 1", n)
	}
	if n := router.BroadcastExcept(sid, msg, alice); n != 2 {
		t.Errorf("BroadcastExcept delivered %d, want 2", n)
	}
	if n := router.BroadcastAll(sid, msg); n != 3 {
		t.Errorf("BroadcastAll delivered %d, want 3", n)
	}
	if got := len(dmRec.Messages()); got != 3 {
		t.Errorf("dm got %d messages, want 3", got)
	}
	if got := len(aliceRec.Messages()); got != 1 {
		t.Errorf("alice got %d messages, want 1", got)
	}
	if got := len(bobRec.Messages()); got != 2 {
		t.Errorf("bob got %d messages, want 2", got)
	}
}

func TestRouterContinuesPastFailures(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, nil)
	_, dmRec, res := join(t, reg, "dm", domain.RoleDirector)
	gone, _, _ := join(t, reg, "gone", domain.RolePlayer)
	_, broken, _ := join(t, reg, "broken", domain.RolePlayer)
	broken.FailWith(errors.New("buffer full"))
	reg.Unregister(gone)

	if n := router.BroadcastAll(res.Session.ID(), protocol.NewMessage(protocol.TypePong, nil)); n != 1 {
		t.Errorf("delivered %d, want 1", n)
	}
	if len(dmRec.Messages()) != 1 {
		t.Error("healthy recipient missed the broadcast")
	}
	if err := router.SendTo(gone, protocol.NewMessage(protocol.TypePong, nil)); !errors.Is(err, ErrClientGone) {
		t.Errorf("SendTo vanished client = %v, want ErrClientGone", err)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	reg := NewRegistry(nil)
	router := NewRouter(reg, nil)
	_, _, res := join(t, reg, "dm", domain.RoleDirector)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := reg.Register("p", &Recorder{})
			if _, err := reg.Join(id, "p", domain.RolePlayer, testWorld); err != nil {
				t.Errorf("Join: %v", err)
				return
			}
			router.BroadcastAll(res.Session.ID(), protocol.NewMessage(protocol.TypePong, nil))
			reg.Leave(id)
			reg.Unregister(id)
		}()
	}
	wg.Wait()

	if got := len(res.Session.Participants()); got != 1 {
		t.Errorf("participants = %d, want 1", got)
	}
}

func TestSelectCharacterRequiresSession(t *testing.T) {
	reg := NewRegistry(nil)
	id := reg.Register("alice", &Recorder{})
	pc := domain.PlayerCharacter{ID: "pc", Name: "Ash"}
	if _, _, err := reg.SelectCharacter(id, pc); domain.AsError(err).Code != domain.CodeNotInSession {
		t.Fatalf("err = %v, want NOT_IN_SESSION", err)
	}

	if _, err := reg.Join(id, "alice", domain.RolePlayer, testWorld); err != nil {
		t.Fatal(err)
	}
	_, p, err := reg.SelectCharacter(id, pc)
	if err != nil {
		t.Fatal(err)
	}
	if p.CharacterName != "Ash" {
		t.Errorf("character name = %q", p.CharacterName)
	}
	c, _ := reg.Connection(id)
	if c.SelectedPC != "pc" {
		t.Errorf("selected pc = %q", c.SelectedPC)
	}
}
