package server

import (
	"context"
	"sync"
	"testing"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/ports"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/matchmaker"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
)

type recordingPeer struct {
	mu     sync.Mutex
	frames []wsFrame
	err    error
}

func (p *recordingPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.frames = append(p.frames, frame)
	return nil
}

func (p *recordingPeer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Type)
	}
	return out
}

func (p *recordingPeer) count(typ string) int {
	n := 0
	for _, got := range p.types() {
		if got == typ {
			n++
		}
	}
	return n
}

func quietLogf(string, ...any) {}

// newTestLobby builds a registry over real in-process collaborators. No
// battle it creates ever launches a process.
func newTestLobby(t *testing.T) (*Lobby, *Users) {
	t.Helper()
	users := NewUsers(quietLogf)
	lobby := NewLobby(users, battle.Deps{
		MatchMaker: matchmaker.New(nil, matchmaker.WithNotifier(users), matchmaker.WithLogf(quietLogf)),
		Resources:  resources.New(resources.Config{ContentDir: t.TempDir(), EngineDir: t.TempDir(), Logf: quietLogf}),
		Ports:      ports.NewAllocator(ports.DefaultBase, ports.WithProbe(func(int) bool { return false })),
		NewProcess: func() battle.Process { return nil },
		Logf:       quietLogf,
		Settings:   battle.Settings{HostingIP: "10.0.0.1", DefaultEngine: "104.0.1"},
	})
	t.Cleanup(func() { lobby.Shutdown(context.Background()) })
	return lobby, users
}

func connect(users *Users, name string) *recordingPeer {
	peer := &recordingPeer{}
	users.Connect(domain.User{Name: name, Elo: 1500, Level: 10}, peer)
	return peer
}
