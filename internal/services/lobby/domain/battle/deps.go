package battle

import (
	"context"
	"log"
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/timeouts"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/balance"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/command"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/matchmaker"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage"
)

// Users is the connected-user registry.
type Users interface {
	Lookup(name string) (domain.User, bool)
	// Send delivers msg to one connected user.
	Send(ctx context.Context, name string, msg Message) error
	// Broadcast delivers msg to every connected user among names.
	Broadcast(ctx context.Context, names []string, msg Message)
	// BroadcastAll delivers msg to every connected user.
	BroadcastAll(ctx context.Context, msg Message)
	// SetBattle records which battle a user is in; zero clears it.
	SetBattle(name string, battleID int)
}

// Lobby is the server-wide battle registry. RemoveBattle must not call back
// into the battle being removed.
type Lobby interface {
	RemoveBattle(ctx context.Context, battleID int)
}

// MatchMaker is the matchmaking queue.
type MatchMaker interface {
	RemoveUser(ctx context.Context, name string, requeue bool) error
	MassJoin(ctx context.Context, users []domain.User, queues []matchmaker.Queue) error
	EligibleQuickJoinPlayers(users []domain.User) []domain.User
	TeamQueues() []matchmaker.Queue
}

// Balancer assigns teams.
type Balancer interface {
	Balance(ctx context.Context, req balance.Request) (balance.Result, error)
}

// Resources resolves content and hands out download handles.
type Resources interface {
	Get(kind resources.Kind, name string) *resources.Download
	FindMap(name string) (string, bool)
	FindGame(name string) (string, bool)
	RecommendedMap(players int) string
	GameInfo(name string) (resources.GameInfo, error)
}

// PortAllocator reserves hosting ports.
type PortAllocator interface {
	Acquire() (int, error)
	Release(port int)
}

// Process is one supervised engine process.
type Process interface {
	Subscribe(h dedicated.Handler)
	Unsubscribe()
	Host(ctx context.Context, setup dedicated.StartSetup, ip string, port int) error
	AddUser(name, scriptPassword string, profile domain.User)
	SayGame(line string)
	Stop()
	IsRunning() bool
	Context() dedicated.Context
}

// Settings are server-wide battle defaults.
type Settings struct {
	HostingIP        string
	DefaultEngine    string
	DefaultGame      string
	MaxBattlePlayers int
	// BotName is the lobby's own chat identity.
	BotName string
	// EngineWait bounds how long StartGame waits for an engine download.
	EngineWait time.Duration
}

// Deps are the collaborators of a battle. Results and Kicks may be nil.
type Deps struct {
	Users      Users
	Lobby      Lobby
	MatchMaker MatchMaker
	Balancer   Balancer
	Resources  Resources
	Ports      PortAllocator
	NewProcess func() Process
	Commands   *command.Registry
	Results    storage.ResultStore
	Kicks      storage.KickStore
	Clock      schedule.Clock
	Logf       func(string, ...any)
	Settings   Settings
}

func (d Deps) normalized() Deps {
	if d.Clock == nil {
		d.Clock = schedule.SystemClock{}
	}
	if d.Logf == nil {
		d.Logf = log.Printf
	}
	if d.Commands == nil {
		d.Commands = command.Default()
	}
	if d.Balancer == nil {
		d.Balancer = balance.Balancer{}
	}
	if d.Settings.BotName == "" {
		d.Settings.BotName = "Nightwatch"
	}
	if d.Settings.HostingIP == "" {
		d.Settings.HostingIP = "127.0.0.1"
	}
	if d.Settings.DefaultGame == "" {
		d.Settings.DefaultGame = "zk:stable"
	}
	if d.Settings.MaxBattlePlayers <= 0 {
		d.Settings.MaxBattlePlayers = 32
	}
	if d.Settings.EngineWait <= 0 {
		d.Settings.EngineWait = timeouts.EngineDownload
	}
	return d
}
