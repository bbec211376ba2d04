package battle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/balance"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule/scheduletest"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/matchmaker"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage"
)

type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]domain.User
	inbox   map[string][]Message
	global  []Message
	battles map[string]int
}

func newFakeUsers(users ...domain.User) *fakeUsers {
	f := &fakeUsers{
		users:   make(map[string]domain.User),
		inbox:   make(map[string][]Message),
		battles: make(map[string]int),
	}
	for _, u := range users {
		f.users[u.Name] = u
	}
	return f
}

func (f *fakeUsers) add(u domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Name] = u
}

func (f *fakeUsers) Lookup(name string) (domain.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[name]
	return u, ok
}

func (f *fakeUsers) Send(_ context.Context, name string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[name]; !ok {
		return apperrors.New(apperrors.CodeUserNotConnected, name+" is not connected")
	}
	f.inbox[name] = append(f.inbox[name], msg)
	return nil
}

func (f *fakeUsers) Broadcast(_ context.Context, names []string, msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		if _, ok := f.users[name]; ok {
			f.inbox[name] = append(f.inbox[name], msg)
		}
	}
}

func (f *fakeUsers) BroadcastAll(_ context.Context, msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = append(f.global, msg)
}

func (f *fakeUsers) SetBattle(name string, battleID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.battles[name] = battleID
}

func (f *fakeUsers) battleOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.battles[name]
}

// says returns the chat lines name received.
func (f *fakeUsers) says(name string) []Say {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Say
	for _, msg := range f.inbox[name] {
		if s, ok := msg.(Say); ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeUsers) heard(name, text string) bool {
	for _, s := range f.says(name) {
		if s.Text == text {
			return true
		}
	}
	return false
}

func (f *fakeUsers) received(name, msgType string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, msg := range f.inbox[name] {
		if msg.MessageType() == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeUsers) globals() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.global...)
}

type fakeLobby struct {
	mu      sync.Mutex
	removed []int
}

func (f *fakeLobby) RemoveBattle(_ context.Context, battleID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, battleID)
}

type fakeMatchMaker struct {
	mu      sync.Mutex
	removed []string
	joined  []string
}

func (f *fakeMatchMaker) RemoveUser(_ context.Context, name string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeMatchMaker) MassJoin(_ context.Context, users []domain.User, _ []matchmaker.Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range users {
		f.joined = append(f.joined, u.Name)
	}
	return nil
}

func (f *fakeMatchMaker) EligibleQuickJoinPlayers(users []domain.User) []domain.User {
	return users
}

func (f *fakeMatchMaker) TeamQueues() []matchmaker.Queue {
	return []matchmaker.Queue{{Name: "Teams", Mode: domain.ModeTeams, MaxPlayers: 16}}
}

type fakeResources struct {
	mu          sync.Mutex
	maps        []string
	recommended string
	engine      *resources.Download
	infoErr     error
}

func (f *fakeResources) Get(kind resources.Kind, _ string) *resources.Download {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == resources.Engine && f.engine != nil {
		return f.engine
	}
	return resources.Ready()
}

func (f *fakeResources) FindMap(name string) (string, bool) {
	for _, m := range f.maps {
		if m == name {
			return m, true
		}
	}
	return "", false
}

func (f *fakeResources) FindGame(name string) (string, bool) {
	if name == "zk:stable" {
		return "Zero-K v1.12.1.0", true
	}
	return name, true
}

func (f *fakeResources) RecommendedMap(int) string { return f.recommended }

func (f *fakeResources) GameInfo(name string) (resources.GameInfo, error) {
	if f.infoErr != nil {
		return resources.GameInfo{}, f.infoErr
	}
	return resources.GameInfo{Name: name}, nil
}

// fakeBalancer fails every call, by error or by panic.
type fakeBalancer struct {
	err   error
	panic string
	calls int
}

func (f *fakeBalancer) Balance(context.Context, balance.Request) (balance.Result, error) {
	f.calls++
	if f.panic != "" {
		panic(f.panic)
	}
	return balance.Result{}, f.err
}

type fakePorts struct {
	mu       sync.Mutex
	next     int
	released []int
	err      error
}

func (f *fakePorts) Acquire() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.next == 0 {
		f.next = 8452
	}
	port := f.next
	f.next++
	return port, nil
}

func (f *fakePorts) Release(port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, port)
}

type fakeProcess struct {
	mu      sync.Mutex
	handler dedicated.Handler
	running bool
	hostErr error
	setup   dedicated.StartSetup
	actual  []dedicated.ActualPlayer
	added   []string
	said    []string
	stopped bool
}

func (p *fakeProcess) Subscribe(h dedicated.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *fakeProcess) Unsubscribe() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
}

func (p *fakeProcess) Host(_ context.Context, setup dedicated.StartSetup, _ string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hostErr != nil {
		return p.hostErr
	}
	p.running = true
	p.setup = setup
	for _, pl := range setup.Players {
		p.actual = append(p.actual, dedicated.ActualPlayer{Name: pl.Name, IsSpectator: pl.IsSpectator, AllyNumber: pl.AllyNumber})
	}
	return nil
}

func (p *fakeProcess) AddUser(name, _ string, _ domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, name)
}

func (p *fakeProcess) SayGame(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.said = append(p.said, line)
}

func (p *fakeProcess) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *fakeProcess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakeProcess) Context() dedicated.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dedicated.Context{Setup: p.setup, ActualPlayers: append([]dedicated.ActualPlayer(nil), p.actual...)}
}

func (p *fakeProcess) subscribed() dedicated.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// exit ends the fake game the way the supervisor does: the process stops
// running before the handler hears about it.
func (p *fakeProcess) exit(result dedicated.Context) {
	p.mu.Lock()
	p.running = false
	if result.Setup.BattleID == 0 {
		result.Setup = p.setup
	}
	if result.ActualPlayers == nil {
		result.ActualPlayers = append([]dedicated.ActualPlayer(nil), p.actual...)
	}
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h.DedicatedExited(result)
	}
}

type fakeResults struct {
	mu    sync.Mutex
	saved []storage.BattleResult
}

func (f *fakeResults) SaveResult(_ context.Context, r storage.BattleResult) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = int64(len(f.saved) + 1)
	f.saved = append(f.saved, r)
	return r.ID, nil
}

func (f *fakeResults) GetResult(_ context.Context, id int64) (storage.BattleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 1 || int(id) > len(f.saved) {
		return storage.BattleResult{}, storage.ErrNotFound
	}
	return f.saved[id-1], nil
}

func (f *fakeResults) ListResults(_ context.Context, _ int, _ int) ([]storage.BattleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.BattleResult(nil), f.saved...), nil
}

type fakeKicks struct {
	mu    sync.Mutex
	kicks []storage.Kick
}

func (f *fakeKicks) RecordKick(_ context.Context, k storage.Kick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicks = append(f.kicks, k)
	return nil
}

func (f *fakeKicks) ListKicks(_ context.Context, _ int) ([]storage.Kick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Kick(nil), f.kicks...), nil
}

type harness struct {
	t       *testing.T
	users   *fakeUsers
	lobby   *fakeLobby
	mm      *fakeMatchMaker
	res     *fakeResources
	ports   *fakePorts
	results *fakeResults
	kicks   *fakeKicks
	clock   *scheduletest.Clock

	mu    sync.Mutex
	procs []*fakeProcess
	// hostErr is handed to every process created after it is set.
	hostErr  error
	balancer Balancer
	logs     []string
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, users ...domain.User) *harness {
	t.Helper()
	return &harness{
		t:       t,
		users:   newFakeUsers(users...),
		lobby:   &fakeLobby{},
		mm:      &fakeMatchMaker{},
		res: &fakeResources{
			maps:        []string{"Alpha", "Recommended", "Comet Catcher Redux"},
			recommended: "Recommended",
		},
		ports:   &fakePorts{},
		results: &fakeResults{},
		kicks:   &fakeKicks{},
		clock:   scheduletest.NewClock(testStart),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Users:      h.users,
		Lobby:      h.lobby,
		MatchMaker: h.mm,
		Resources:  h.res,
		Ports:      h.ports,
		NewProcess: func() Process {
			h.mu.Lock()
			defer h.mu.Unlock()
			p := &fakeProcess{hostErr: h.hostErr}
			h.procs = append(h.procs, p)
			return p
		},
		Results:  h.results,
		Kicks:    h.kicks,
		Balancer: h.balancer,
		Clock:    h.clock,
		Logf:     h.logf,
		Settings: Settings{
			HostingIP:        "10.0.0.1",
			DefaultEngine:    "104.0.1",
			MaxBattlePlayers: 32,
		},
	}
}

func (h *harness) open(header domain.Header) *Battle {
	h.t.Helper()
	b, err := New(context.Background(), "founder", header, h.deps())
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	return b
}

func (h *harness) logf(format string, args ...any) {
	h.mu.Lock()
	h.logs = append(h.logs, fmt.Sprintf(format, args...))
	h.mu.Unlock()
	h.t.Logf(format, args...)
}

func (h *harness) logged(substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, line := range h.logs {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (h *harness) lastProcess() *fakeProcess {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.procs) == 0 {
		h.t.Fatal("no process was created")
	}
	return h.procs[len(h.procs)-1]
}

func (h *harness) processCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.procs)
}

func (h *harness) join(b *Battle, names ...string) {
	h.t.Helper()
	for _, name := range names {
		if _, ok := h.users.Lookup(name); !ok {
			h.users.add(domain.User{Name: name, Elo: 1500, MmElo: 1500})
		}
		if err := b.Join(context.Background(), name, ""); err != nil {
			h.t.Fatalf("Join(%s): %v", name, err)
		}
	}
}

func (h *harness) say(b *Battle, user, text string) error {
	return b.Say(context.Background(), Say{User: user, Text: text, Place: PlaceBattle, AllowRelay: true})
}

func checkCounts(t *testing.T, b *Battle) {
	t.Helper()
	specs, players := 0, 0
	for _, m := range b.Members() {
		if m.IsSpectator {
			specs++
		} else {
			players++
		}
	}
	h := b.Header()
	if h.SpectatorCount != specs || h.PlayerCount != players {
		t.Fatalf("counts = %d/%d, want %d/%d", h.SpectatorCount, h.PlayerCount, specs, players)
	}
}

func names(members []domain.Member) string {
	out := ""
	for i, m := range members {
		if i > 0 {
			out += ","
		}
		out += m.Name
	}
	return fmt.Sprint(out)
}
