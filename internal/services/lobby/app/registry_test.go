package server

import (
	"context"
	"errors"
	"testing"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
)

func TestOpenBattleAnnouncesToEveryone(t *testing.T) {
	t.Parallel()

	lobby, users := newTestLobby(t)
	a := connect(users, "a")
	b := connect(users, "b")

	opened, err := lobby.OpenBattle(context.Background(), "a", domain.Header{Title: "evening teams", Mode: domain.ModeTeams})
	if err != nil {
		t.Fatalf("open battle: %v", err)
	}
	if a.count("battle_added") != 1 || b.count("battle_added") != 1 {
		t.Fatalf("frames = %v / %v, want battle_added for both", a.types(), b.types())
	}
	if got, ok := lobby.Battle(opened.ID()); !ok || got != opened {
		t.Fatalf("Battle(%d) = %v, %v", opened.ID(), got, ok)
	}
	headers := lobby.Headers()
	if len(headers) != 1 || headers[0].Title == nil || *headers[0].Title != "evening teams" {
		t.Fatalf("headers = %+v, want the opened battle", headers)
	}
}

func TestBattlesAreOrderedByID(t *testing.T) {
	t.Parallel()

	lobby, _ := newTestLobby(t)
	for i := 0; i < 3; i++ {
		if _, err := lobby.OpenBattle(context.Background(), "host", domain.Header{}); err != nil {
			t.Fatalf("open battle: %v", err)
		}
	}
	battles := lobby.Battles()
	if len(battles) != 3 {
		t.Fatalf("battles = %d, want 3", len(battles))
	}
	for i := 1; i < len(battles); i++ {
		if battles[i-1].ID() >= battles[i].ID() {
			t.Fatalf("battle ids out of order: %d before %d", battles[i-1].ID(), battles[i].ID())
		}
	}
}

func TestJoinBattleMovesUserAndClosesEmptyBattle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lobby, users := newTestLobby(t)
	connect(users, "a")
	first, err := lobby.OpenBattle(ctx, "a", domain.Header{})
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	second, err := lobby.OpenBattle(ctx, "a", domain.Header{})
	if err != nil {
		t.Fatalf("open second: %v", err)
	}

	if err := lobby.JoinBattle(ctx, "a", first.ID(), ""); err != nil {
		t.Fatalf("join first: %v", err)
	}
	if err := lobby.JoinBattle(ctx, "a", second.ID(), ""); err != nil {
		t.Fatalf("join second: %v", err)
	}

	if got := users.BattleOf("a"); got != second.ID() {
		t.Fatalf("battle of a = %d, want %d", got, second.ID())
	}
	if _, ok := lobby.Battle(first.ID()); ok {
		t.Fatal("first battle still listed after its last member left")
	}
	if got := first.State(); got != battle.Closed {
		t.Fatalf("first state = %v, want %v", got, battle.Closed)
	}
}

func TestJoinUnknownBattle(t *testing.T) {
	t.Parallel()

	lobby, users := newTestLobby(t)
	connect(users, "a")
	if err := lobby.JoinBattle(context.Background(), "a", 999999, ""); !errors.Is(err, ErrBattleNotFound) {
		t.Fatalf("err = %v, want %v", err, ErrBattleNotFound)
	}
}

func TestLeaveWithoutBattle(t *testing.T) {
	t.Parallel()

	lobby, users := newTestLobby(t)
	connect(users, "a")
	if err := lobby.LeaveBattle(context.Background(), "a"); !errors.Is(err, battle.ErrNotMember) {
		t.Fatalf("err = %v, want %v", err, battle.ErrNotMember)
	}
	if _, err := lobby.CurrentBattle("a"); !errors.Is(err, battle.ErrNotMember) {
		t.Fatalf("current battle err = %v, want %v", err, battle.ErrNotMember)
	}
}

func TestCloseBattleClearsMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lobby, users := newTestLobby(t)
	a := connect(users, "a")
	b, err := lobby.OpenBattle(ctx, "a", domain.Header{})
	if err != nil {
		t.Fatalf("open battle: %v", err)
	}
	if err := lobby.JoinBattle(ctx, "a", b.ID(), ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := lobby.CloseBattle(ctx, b.ID()); err != nil {
		t.Fatalf("close battle: %v", err)
	}
	if users.BattleOf("a") != 0 {
		t.Fatal("member still assigned to the closed battle")
	}
	if a.count("battle_removed") != 1 {
		t.Fatalf("frames = %v, want battle_removed", a.types())
	}
	if err := lobby.CloseBattle(ctx, b.ID()); !errors.Is(err, ErrBattleNotFound) {
		t.Fatalf("second close err = %v, want %v", err, ErrBattleNotFound)
	}
}

func TestReplaceBattleCopiesSettingsAndRetiresOld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lobby, users := newTestLobby(t)
	connect(users, "a")
	old, err := lobby.OpenBattle(ctx, "a", domain.Header{Title: "private", Password: "pw", Mode: domain.ModeTeams})
	if err != nil {
		t.Fatalf("open battle: %v", err)
	}
	if err := lobby.JoinBattle(ctx, "a", old.ID(), "pw"); err != nil {
		t.Fatalf("join: %v", err)
	}

	replacement, err := lobby.ReplaceBattle(ctx, old.ID())
	if err != nil {
		t.Fatalf("replace battle: %v", err)
	}
	h := replacement.Header()
	if h.Title != "private" || h.Password != "pw" || h.Mode != domain.ModeTeams || h.Founder != "a" {
		t.Fatalf("replacement header = %+v, want copied settings", h)
	}
	if got := old.State(); got != battle.Zombie {
		t.Fatalf("old state = %v, want %v", got, battle.Zombie)
	}
	if err := old.Join(ctx, "a", "pw"); err == nil {
		t.Fatal("zombie battle accepted a join")
	}
	if err := lobby.LeaveBattle(ctx, "a"); err != nil {
		t.Fatalf("leave zombie: %v", err)
	}
	if _, ok := lobby.Battle(old.ID()); ok {
		t.Fatal("empty zombie still listed")
	}
}
