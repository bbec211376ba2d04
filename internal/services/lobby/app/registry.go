package server

import (
	"context"
	"log"
	"sort"
	"sync"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
)

// ErrBattleNotFound is returned for unknown battle ids.
var ErrBattleNotFound = apperrors.New(apperrors.CodeBattleNotFound, "There is no such battle")

// Lobby is the server-wide battle registry. It owns no battle state; the
// battles call RemoveBattle when they close themselves.
type Lobby struct {
	users *Users
	deps  battle.Deps
	logf  func(string, ...any)

	mu      sync.Mutex
	battles map[int]*battle.Battle
}

// NewLobby creates a registry. deps is the template every battle gets;
// its Users and Lobby fields are filled in here.
func NewLobby(users *Users, deps battle.Deps) *Lobby {
	l := &Lobby{
		users:   users,
		logf:    deps.Logf,
		battles: make(map[int]*battle.Battle),
	}
	if l.logf == nil {
		l.logf = log.Printf
	}
	deps.Users = users
	deps.Lobby = l
	l.deps = deps
	return l
}

// OpenBattle creates a battle and announces it.
func (l *Lobby) OpenBattle(ctx context.Context, founder string, header domain.Header) (*battle.Battle, error) {
	b, err := battle.New(ctx, founder, header, l.deps)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.battles[b.ID()] = b
	l.mu.Unlock()
	l.users.BroadcastAll(ctx, battle.BattleAdded{Header: battle.FullHeader(b.Header())})
	l.logf("lobby: opened battle %d for %s", b.ID(), b.Header().Founder)
	return b, nil
}

// Battle returns an open battle.
func (l *Lobby) Battle(id int) (*battle.Battle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.battles[id]
	return b, ok
}

// Battles returns the open battles ordered by id.
func (l *Lobby) Battles() []*battle.Battle {
	l.mu.Lock()
	out := make([]*battle.Battle, 0, len(l.battles))
	for _, b := range l.battles {
		out = append(out, b)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// RemoveBattle forgets a battle and announces it. Battles call this from
// inside their own lock, so it must not call into the battle.
func (l *Lobby) RemoveBattle(ctx context.Context, id int) {
	l.mu.Lock()
	_, ok := l.battles[id]
	delete(l.battles, id)
	l.mu.Unlock()
	if !ok {
		return
	}
	l.users.BroadcastAll(ctx, battle.BattleRemoved{BattleID: id})
	l.logf("lobby: removed battle %d", id)
}

// CloseBattle stops a battle's game, drops its members and removes it.
func (l *Lobby) CloseBattle(ctx context.Context, id int) error {
	b, ok := l.Battle(id)
	if !ok {
		return ErrBattleNotFound
	}
	b.Close(ctx)
	l.RemoveBattle(ctx, id)
	return nil
}

// ReplaceBattle retires a battle and opens a fresh copy of its settings.
// The old one keeps running its game and closes once empty.
func (l *Lobby) ReplaceBattle(ctx context.Context, id int) (*battle.Battle, error) {
	old, ok := l.Battle(id)
	if !ok {
		return nil, ErrBattleNotFound
	}
	h := old.Header()
	copied := domain.Header{
		Title:        h.Title,
		Map:          h.Map,
		Game:         h.Game,
		Engine:       h.Engine,
		Mode:         h.Mode,
		IsMatchMaker: h.IsMatchMaker,
		Password:     h.Password,
		MaxPlayers:   h.MaxPlayers,
		IsAutohost:   h.IsAutohost,
		Bounds:       h.Bounds,
	}
	old.MarkZombie(ctx)
	return l.OpenBattle(ctx, h.Founder, copied)
}

// JoinBattle moves name into battle id, leaving any other battle first.
func (l *Lobby) JoinBattle(ctx context.Context, name string, id int, password string) error {
	b, ok := l.Battle(id)
	if !ok {
		return ErrBattleNotFound
	}
	if current := l.users.BattleOf(name); current != 0 && current != id {
		if err := l.LeaveBattle(ctx, name); err != nil {
			l.logf("lobby: %s leaving battle %d: %v", name, current, err)
		}
	}
	return b.Join(ctx, name, password)
}

// LeaveBattle removes name from the battle it is in.
func (l *Lobby) LeaveBattle(ctx context.Context, name string) error {
	id := l.users.BattleOf(name)
	if id == 0 {
		return battle.ErrNotMember
	}
	b, ok := l.Battle(id)
	if !ok {
		l.users.SetBattle(name, 0)
		return ErrBattleNotFound
	}
	return b.Leave(ctx, name)
}

// CurrentBattle returns the battle name is in.
func (l *Lobby) CurrentBattle(name string) (*battle.Battle, error) {
	id := l.users.BattleOf(name)
	if id == 0 {
		return nil, battle.ErrNotMember
	}
	b, ok := l.Battle(id)
	if !ok {
		return nil, ErrBattleNotFound
	}
	return b, nil
}

// Headers returns the listing of every open battle.
func (l *Lobby) Headers() []battle.HeaderUpdate {
	battles := l.Battles()
	out := make([]battle.HeaderUpdate, 0, len(battles))
	for _, b := range battles {
		out = append(out, battle.FullHeader(b.Header()))
	}
	return out
}

// Shutdown closes every battle.
func (l *Lobby) Shutdown(ctx context.Context) {
	for _, b := range l.Battles() {
		b.Close(ctx)
		l.RemoveBattle(ctx, b.ID())
	}
}
