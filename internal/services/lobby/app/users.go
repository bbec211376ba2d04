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

// framer hands one frame to a client connection. Implementations must not
// block on the network: battles deliver while holding their own lock.
type framer interface {
	writeFrame(frame wsFrame) error
}

type connectedUser struct {
	profile  domain.User
	peer     framer
	battleID int
}

// Users is the registry of connected users. Battles deliver every message
// through it, so it never calls back into a battle.
type Users struct {
	logf func(string, ...any)

	mu    sync.RWMutex
	users map[string]*connectedUser
}

// NewUsers creates an empty registry.
func NewUsers(logf func(string, ...any)) *Users {
	if logf == nil {
		logf = log.Printf
	}
	return &Users{logf: logf, users: make(map[string]*connectedUser)}
}

// Connect registers a logged-in user. A second login under the same name
// takes over; the previous connection is returned so it can be closed.
func (u *Users) Connect(profile domain.User, peer framer) framer {
	u.mu.Lock()
	defer u.mu.Unlock()
	var previous framer
	battleID := 0
	if old, ok := u.users[profile.Name]; ok {
		previous = old.peer
		battleID = old.battleID
	}
	u.users[profile.Name] = &connectedUser{profile: profile, peer: peer, battleID: battleID}
	return previous
}

// Disconnect removes name when peer is still its connection. It returns the
// battle the user was in.
func (u *Users) Disconnect(name string, peer framer) (int, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	cu, ok := u.users[name]
	if !ok || cu.peer != peer {
		return 0, false
	}
	delete(u.users, name)
	return cu.battleID, true
}

// Lookup returns the profile of a connected user.
func (u *Users) Lookup(name string) (domain.User, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	cu, ok := u.users[name]
	if !ok {
		return domain.User{}, false
	}
	return cu.profile, true
}

// UpdateProfile replaces the profile of a connected user.
func (u *Users) UpdateProfile(profile domain.User) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	cu, ok := u.users[profile.Name]
	if !ok {
		return false
	}
	cu.profile = profile
	return true
}

// Names returns the connected user names in order.
func (u *Users) Names() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	names := make([]string, 0, len(u.users))
	for name := range u.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers msg to one connected user.
func (u *Users) Send(_ context.Context, name string, msg battle.Message) error {
	u.mu.RLock()
	cu, ok := u.users[name]
	var peer framer
	if ok {
		peer = cu.peer
	}
	u.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.CodeUserNotConnected, name+" is not connected")
	}
	return peer.writeFrame(messageFrame(msg))
}

// Broadcast delivers msg to the connected users among names.
func (u *Users) Broadcast(_ context.Context, names []string, msg battle.Message) {
	u.mu.RLock()
	peers := make([]framer, 0, len(names))
	for _, name := range names {
		if cu, ok := u.users[name]; ok {
			peers = append(peers, cu.peer)
		}
	}
	u.mu.RUnlock()
	u.deliver(peers, messageFrame(msg))
}

// BroadcastAll delivers msg to every connected user.
func (u *Users) BroadcastAll(_ context.Context, msg battle.Message) {
	u.mu.RLock()
	peers := make([]framer, 0, len(u.users))
	for _, cu := range u.users {
		peers = append(peers, cu.peer)
	}
	u.mu.RUnlock()
	u.deliver(peers, messageFrame(msg))
}

func (u *Users) deliver(peers []framer, frame wsFrame) {
	for _, peer := range peers {
		if err := peer.writeFrame(frame); err != nil {
			u.logf("lobby: deliver %s: %v", frame.Type, err)
		}
	}
}

// SetBattle records which battle name is in; zero clears it.
func (u *Users) SetBattle(name string, battleID int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if cu, ok := u.users[name]; ok {
		cu.battleID = battleID
	}
}

// BattleOf returns the battle name is in, or zero.
func (u *Users) BattleOf(name string) int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if cu, ok := u.users[name]; ok {
		return cu.battleID
	}
	return 0
}

// QueueStatusChanged tells name about its matchmaker queues.
func (u *Users) QueueStatusChanged(ctx context.Context, name string, queues []string) {
	if err := u.Send(ctx, name, queueStatus{Queues: queues}); err != nil {
		u.logf("lobby: queue status for %s: %v", name, err)
	}
}
