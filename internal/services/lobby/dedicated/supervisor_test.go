package dedicated

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

type recorder struct {
	mu      sync.Mutex
	events  []string
	chat    []string
	exited  chan Context
	panicOn string
}

func newRecorder() *recorder {
	return &recorder{exited: make(chan Context, 1)}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev == r.panicOn {
		panic("boom")
	}
}

func (r *recorder) DedicatedStarted() { r.add("started") }
func (r *recorder) GameStarted()      { r.add("game") }

func (r *recorder) PlayerSaid(user, text string, vis Visibility) {
	r.mu.Lock()
	r.chat = append(r.chat, user+": "+text)
	r.mu.Unlock()
	r.add("chat")
}

func (r *recorder) DedicatedExited(result Context) {
	r.add("exited")
	r.exited <- result
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]string(nil), r.chat...)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Event
		ok   bool
	}{
		{line: "SERVER STARTED", want: Event{Kind: "started"}, ok: true},
		{line: " GAME STARTED ", want: Event{Kind: "game"}, ok: true},
		{line: "PLAYER JOINED alice", want: Event{Kind: "joined", Name: "alice"}, ok: true},
		{line: "PLAYER SPECTATOR bob", want: Event{Kind: "joined", Name: "bob", Spectator: true}, ok: true},
		{line: "CHAT ally alice push mid now", want: Event{Kind: "chat", Name: "alice", Text: "push mid now", Visibility: Allies}, ok: true},
		{line: "CHAT loud alice hi", ok: false},
		{line: "CHAT public alice", ok: false},
		{line: "WINNERS x", ok: false},
		{line: "loading map", ok: false},
	}
	for _, tc := range tests {
		got, ok := ParseLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("ParseLine(%q) ok = %v, want %v", tc.line, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if got.Kind != tc.want.Kind || got.Name != tc.want.Name || got.Text != tc.want.Text ||
			got.Visibility != tc.want.Visibility || got.Spectator != tc.want.Spectator {
			t.Fatalf("ParseLine(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}

	ev, ok := ParseLine("WINNERS 0, 2")
	if !ok || len(ev.Allies) != 2 || ev.Allies[0] != 0 || ev.Allies[1] != 2 {
		t.Fatalf("winners = %+v, %v", ev, ok)
	}
}

func TestScriptListsParticipants(t *testing.T) {
	setup := StartSetup{
		BattleID: 7,
		Game:     "Zero-K v1.12",
		Map:      "Comet Catcher Redux",
		Mode:     domain.ModeTeams,
		Players: []Player{
			{Name: "alice", ScriptPassword: "pw-a", AllyNumber: 0},
			{Name: "bob", ScriptPassword: "pw-b", AllyNumber: 1},
			{Name: "carol", ScriptPassword: "pw-c", IsSpectator: true},
		},
		Bots:       []domain.Bot{{Name: "chicken", Owner: "alice", AI: "Chicken: Normal", AllyNumber: 1}},
		ModOptions: map[string]string{"startmetal": "1000"},
	}
	script := Script(setup, "10.0.0.1", 8452)
	for _, want := range []string{
		"HostIP=10.0.0.1;",
		"HostPort=8452;",
		"MapName=Comet Catcher Redux;",
		"Name=alice;",
		"Password=pw-c;",
		"Spectator=1;",
		"ShortName=Chicken: Normal;",
		"[ALLYTEAM1]",
		"startmetal=1000;",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "[ALLYTEAM2]") {
		t.Fatalf("unexpected ally team in script:\n%s", script)
	}
}

func TestHostMissingEngine(t *testing.T) {
	s := New(Config{EngineDir: t.TempDir()})
	err := s.Host(context.Background(), StartSetup{Engine: "104.0.1"}, "127.0.0.1", 8452)
	if apperrors.CodeOf(err) != apperrors.CodeBattleEngineUnavailable {
		t.Fatalf("code = %v, want %v (err %v)", apperrors.CodeOf(err), apperrors.CodeBattleEngineUnavailable, err)
	}
	if s.IsRunning() {
		t.Fatal("supervisor running after failed host")
	}
}

func writeEngine(t *testing.T, dir, version, body string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell engine stub needs a POSIX shell")
	}
	versionDir := filepath.Join(dir, version)
	if err := os.MkdirAll(versionDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(versionDir, "spring-dedicated")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write engine: %v", err)
	}
}

func TestHostRunsEngineAndReportsEvents(t *testing.T) {
	engineDir := t.TempDir()
	writeEngine(t, engineDir, "104.0.1", `echo "SERVER STARTED"
echo "PLAYER JOINED alice"
echo "GAME STARTED"
echo "CHAT public alice hello there"
read line
echo "CHAT public host $line"
echo "WINNERS 1"
exit 0
`)

	rec := newRecorder()
	s := New(Config{EngineDir: engineDir, ScriptDir: t.TempDir()})
	s.Subscribe(rec)
	setup := StartSetup{
		BattleID: 3,
		Engine:   "104.0.1",
		Players:  []Player{{Name: "alice", AllyNumber: 1}},
	}
	if err := s.Host(context.Background(), setup, "127.0.0.1", 8452); err != nil {
		t.Fatalf("host: %v", err)
	}
	if err := s.Host(context.Background(), setup, "127.0.0.1", 8452); err == nil {
		t.Fatal("second host on the same supervisor succeeded")
	}
	s.SayGame("gg")

	var result Context
	select {
	case result = <-rec.exited:
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not exit")
	}

	events, chat := rec.snapshot()
	want := []string{"started", "game", "chat", "chat", "exited"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", events, want)
	}
	if chat[0] != "alice: hello there" || chat[1] != "host: /say gg" {
		t.Fatalf("chat = %v", chat)
	}
	if !result.IsPlayer("alice") || result.ActualPlayers[0].AllyNumber != 1 {
		t.Fatalf("actual players = %+v", result.ActualPlayers)
	}
	if len(result.WinnerAllies) != 1 || result.WinnerAllies[0] != 1 {
		t.Fatalf("winners = %v", result.WinnerAllies)
	}
	if result.Crashed || result.GameStartedAt == nil {
		t.Fatalf("result = %+v", result)
	}
	if s.IsRunning() {
		t.Fatal("supervisor still running after exit")
	}
}

func TestUnsubscribedSupervisorDropsEvents(t *testing.T) {
	rec := newRecorder()
	s := New(Config{})
	s.Subscribe(rec)
	s.Unsubscribe()
	s.handleLine("SERVER STARTED")
	if events, _ := rec.snapshot(); len(events) != 0 {
		t.Fatalf("events = %v, want none", events)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	var logged []string
	rec := newRecorder()
	rec.panicOn = "started"
	s := New(Config{Logf: func(format string, args ...any) {
		logged = append(logged, format)
	}})
	s.Subscribe(rec)
	s.handleLine("SERVER STARTED")
	s.handleLine("GAME STARTED")
	events, _ := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %v, want delivery to continue after panic", events)
	}
	if len(logged) != 1 {
		t.Fatalf("logged = %v, want one panic log", logged)
	}
}
