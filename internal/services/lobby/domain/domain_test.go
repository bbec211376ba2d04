package domain

import "testing"

func TestDefaultMaxPlayers(t *testing.T) {
	tests := []struct {
		mode      Mode
		requested int
		want      int
	}{
		{Mode1v1, 8, 2},
		{ModePlanetWars, 1, 16},
		{ModePlanetWars, 6, 6},
		{ModeChickens, 0, 10},
		{ModeChickens, 4, 4},
		{ModeFFA, 2, 16},
		{ModeFFA, 3, 3},
		{ModeTeams, 3, 16},
		{ModeTeams, 8, 8},
		{ModeNone, 0, 16},
		{ModeNone, 1, 1},
	}
	for _, tc := range tests {
		if got := tc.mode.DefaultMaxPlayers(tc.requested); got != tc.want {
			t.Fatalf("%v.DefaultMaxPlayers(%d) = %d, want %d", tc.mode, tc.requested, got, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for mode, name := range modeNames {
		got, err := ParseMode(" " + name + " ")
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", name, err)
		}
		if got != mode {
			t.Fatalf("ParseMode(%q) = %v, want %v", name, got, mode)
		}
	}
	if got, _ := ParseMode("Duel"); got != Mode1v1 {
		t.Fatalf("ParseMode(Duel) = %v, want 1v1", got)
	}
	if _, err := ParseMode("capture-the-flag"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestScriptPasswordDeterministic(t *testing.T) {
	a := ScriptPassword("guid-1", "alice")
	if a != ScriptPassword("guid-1", "alice") {
		t.Fatal("script password changed between calls")
	}
	if a == ScriptPassword("guid-2", "alice") {
		t.Fatal("script password must depend on the battle guid")
	}
	if a == ScriptPassword("guid-1", "bob") {
		t.Fatal("script password must depend on the user name")
	}
}

func TestRankNameClamps(t *testing.T) {
	if got := RankName(-3); got != RankNames[0] {
		t.Fatalf("RankName(-3) = %q", got)
	}
	if got := RankName(99); got != RankNames[len(RankNames)-1] {
		t.Fatalf("RankName(99) = %q", got)
	}
}

func TestBoundsWith(t *testing.T) {
	b := OpenBounds().With(MinElo, 1500).With(MaxRank, 3)
	if b.MinElo != 1500 || b.MaxRank != 3 {
		t.Fatalf("bounds = %+v", b)
	}
	if b.MaxElo != maxInt {
		t.Fatalf("max elo = %d, want open", b.MaxElo)
	}
}
