package server

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
)

func TestConnectTakesOverName(t *testing.T) {
	t.Parallel()

	users := NewUsers(quietLogf)
	first := &recordingPeer{}
	if previous := users.Connect(domain.User{Name: "alice"}, first); previous != nil {
		t.Fatalf("first connect previous = %v, want nil", previous)
	}
	users.SetBattle("alice", 7)

	second := &recordingPeer{}
	previous := users.Connect(domain.User{Name: "alice", Elo: 1800}, second)
	if previous != framer(first) {
		t.Fatalf("previous peer = %v, want first connection", previous)
	}
	if got := users.BattleOf("alice"); got != 7 {
		t.Fatalf("battle after takeover = %d, want 7", got)
	}
	profile, ok := users.Lookup("alice")
	if !ok || profile.Elo != 1800 {
		t.Fatalf("profile = %+v, %v, want elo 1800", profile, ok)
	}
}

func TestDisconnectIgnoresReplacedConnection(t *testing.T) {
	t.Parallel()

	users := NewUsers(quietLogf)
	first := &recordingPeer{}
	second := &recordingPeer{}
	users.Connect(domain.User{Name: "alice"}, first)
	users.Connect(domain.User{Name: "alice"}, second)
	users.SetBattle("alice", 3)

	if _, ok := users.Disconnect("alice", first); ok {
		t.Fatal("stale connection disconnected the user")
	}
	if _, ok := users.Lookup("alice"); !ok {
		t.Fatal("user gone after stale disconnect")
	}
	battleID, ok := users.Disconnect("alice", second)
	if !ok || battleID != 3 {
		t.Fatalf("disconnect = %d, %v, want 3, true", battleID, ok)
	}
	if _, ok := users.Lookup("alice"); ok {
		t.Fatal("user still connected")
	}
}

func TestSendToUnknownUser(t *testing.T) {
	t.Parallel()

	users := NewUsers(quietLogf)
	err := users.Send(context.Background(), "ghost", battle.LeftBattle{BattleID: 1, User: "x"})
	if got := apperrors.CodeOf(err); got != apperrors.CodeUserNotConnected {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeUserNotConnected)
	}
}

func TestBroadcastSkipsMissingAndFailingPeers(t *testing.T) {
	t.Parallel()

	users := NewUsers(quietLogf)
	a := connect(users, "a")
	b := connect(users, "b")
	broken := &recordingPeer{err: errors.New("closed")}
	users.Connect(domain.User{Name: "c"}, broken)

	users.Broadcast(context.Background(), []string{"a", "b", "c", "ghost"}, battle.LeftBattle{BattleID: 1, User: "d"})

	if a.count("left_battle") != 1 || b.count("left_battle") != 1 {
		t.Fatalf("frames = %v / %v, want one left_battle each", a.types(), b.types())
	}
}

func TestBroadcastAllReachesEveryone(t *testing.T) {
	t.Parallel()

	users := NewUsers(quietLogf)
	a := connect(users, "a")
	b := connect(users, "b")

	users.BroadcastAll(context.Background(), battle.BattleRemoved{BattleID: 4})

	if a.count("battle_removed") != 1 || b.count("battle_removed") != 1 {
		t.Fatalf("frames = %v / %v, want one battle_removed each", a.types(), b.types())
	}
	if got := users.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("names = %v, want [a b]", got)
	}
}

func TestQueueStatusChangedSendsFrame(t *testing.T) {
	t.Parallel()

	users := NewUsers(quietLogf)
	a := connect(users, "a")
	users.QueueStatusChanged(context.Background(), "a", []string{"Teams"})
	users.QueueStatusChanged(context.Background(), "ghost", []string{"Teams"})

	if got := a.count("matchmaker_status"); got != 1 {
		t.Fatalf("matchmaker_status frames = %d, want 1", got)
	}
}
