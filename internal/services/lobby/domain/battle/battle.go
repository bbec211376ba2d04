// Package battle is the per-session orchestrator. A Battle owns its members,
// bots, active poll and engine process; every exported method serializes on
// the battle's own lock, so sessions never block each other.
//
// Methods with a Locked suffix expect b.mu to be held. Collaborators invoked
// under the lock must not call back into the same battle.
package battle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/command"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/kicklist"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/poll"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
)

const (
	// DiscussionTime is how long votes are refused after a game ends.
	DiscussionTime = 35 * time.Second
	// mapVoteDelay separates the end of discussion from an autohost's map vote.
	mapVoteDelay = time.Second
	// FallbackMap is hosted when no map can be resolved.
	FallbackMap = "Small_Divide-Remake-v04"
)

var tracer = otel.Tracer("github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle")

var battleCounter atomic.Int64

var (
	ErrZombie         = apperrors.New(apperrors.CodeBattleZombie, "This room is now disabled, please join a new one")
	ErrClosed         = apperrors.New(apperrors.CodeBattleClosed, "This battle has been closed")
	ErrWrongPassword  = apperrors.New(apperrors.CodeBattleWrongPassword, "Invalid password")
	ErrKicked         = apperrors.New(apperrors.CodeBattleKicked, "Banned for five minutes")
	ErrNotMember      = apperrors.New(apperrors.CodeBattleNotMember, "You are not in this battle")
	ErrAlreadyRunning = apperrors.New(apperrors.CodeBattleAlreadyRunning, "Game already running")
	ErrNotRunning     = apperrors.New(apperrors.CodeBattleNotRunning, "The game is not running")
	ErrCannotStart    = apperrors.New(apperrors.CodeBattleCannotStart, "The game cannot be started")
	ErrEngineMissing  = apperrors.New(apperrors.CodeBattleEngineUnavailable, "Host engine download failed")
	ErrStartFailed    = apperrors.New(apperrors.CodeBattleProcessStartFailed, "Failed to start the game server")
	ErrPollActive     = apperrors.New(apperrors.CodePollAlreadyActive, "Another poll is already in progress")
	ErrPollNotActive  = apperrors.New(apperrors.CodePollNotActive, "There is no poll going on, start some first")
	ErrCommandDenied  = apperrors.New(apperrors.CodeCommandDenied, "Command denied")
	ErrDiscussion     = apperrors.New(apperrors.CodeCommandRefused, "Please wait for a few seconds before starting a poll. Feel free to discuss the last battle.")
	ErrNotConnected   = apperrors.New(apperrors.CodeUserNotConnected, "User is not connected")
)

// State is the session lifecycle position.
type State int

const (
	Forming State = iota
	Open
	InGame
	PostGameDiscussion
	Zombie
	Closed
)

func (s State) String() string {
	switch s {
	case Forming:
		return "forming"
	case Open:
		return "open"
	case InGame:
		return "in_game"
	case PostGameDiscussion:
		return "post_game_discussion"
	case Zombie:
		return "zombie"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Battle is one hosted session.
type Battle struct {
	id   int
	guid string
	deps Deps
	logf func(string, ...any)

	mu         sync.Mutex
	state      State
	header     domain.Header
	members    map[string]*domain.Member
	bots       map[string]*domain.Bot
	modOptions map[string]string
	kicked     *kicklist.List
	notify     []string
	debriefs   []Debriefing
	inviteMM   int
	gameInfo   *resources.GameInfo

	poll        *poll.Poll
	pollCmd     command.Command
	pollInvoker command.Invoker
	pollOnEnd   func(ctx context.Context, outcome poll.Outcome)
	pollTimer   *schedule.Timer
	discussion  *schedule.Timer

	proc       Process
	procGen    uint64
	startSetup *dedicated.StartSetup
	starting   bool
	endedAt    time.Time
	portHeld   bool
}

// New creates a battle for founder from a requested header, reserving a
// hosting port. Port exhaustion is fatal for the battle.
func New(ctx context.Context, founder string, requested domain.Header, deps Deps) (*Battle, error) {
	deps = deps.normalized()
	port, err := deps.Ports.Acquire()
	if err != nil {
		return nil, fmt.Errorf("reserve hosting port: %w", err)
	}

	id := int(battleCounter.Add(1))
	b := &Battle{
		id:         id,
		guid:       uuid.NewString(),
		deps:       deps,
		logf:       deps.Logf,
		state:      Forming,
		members:    make(map[string]*domain.Member),
		bots:       make(map[string]*domain.Bot),
		modOptions: make(map[string]string),
		kicked:     kicklist.New(deps.Clock.Now),
		inviteMM:   int(^uint(0) >> 1),
		portHeld:   true,
	}
	b.pollTimer = schedule.NewTimer(fmt.Sprintf("battle %d poll", id), deps.Clock, deps.Logf)
	b.discussion = schedule.NewTimer(fmt.Sprintf("battle %d discussion", id), deps.Clock, deps.Logf)

	h := requested
	if h.Bounds == (domain.Bounds{}) {
		h.Bounds = domain.OpenBounds()
	}
	h.ID = id
	h.Founder = founder
	h.IsRunning = false
	h.RunningSince = nil
	h.SpectatorCount = 0
	h.PlayerCount = 0
	h.IP = deps.Settings.HostingIP
	h.Port = port

	b.mu.Lock()
	defer b.mu.Unlock()
	b.header = h
	if h.IsAutohost {
		b.header.Founder = autohostFounder(id)
	}
	b.validateAndFillLocked(ctx)
	b.state = Open
	return b, nil
}

func autohostFounder(id int) string { return fmt.Sprintf("Autohost #%d", id) }

// ID returns the battle id.
func (b *Battle) ID() int { return b.id }

// GUID returns the per-instance secret used for script passwords.
func (b *Battle) GUID() string { return b.guid }

// ScriptPassword returns the join secret of name in this battle.
func (b *Battle) ScriptPassword(name string) string {
	return domain.ScriptPassword(b.guid, name)
}

// Header returns a snapshot of the battle header.
func (b *Battle) Header() domain.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header
}

// State returns the lifecycle state.
func (b *Battle) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsInGame reports whether a game is running.
func (b *Battle) IsInGame() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.header.IsRunning
}

// Members returns a snapshot of the members ordered by name.
func (b *Battle) Members() []domain.Member {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Member, 0, len(b.members))
	for _, name := range b.memberNamesLocked() {
		out = append(out, *b.members[name])
	}
	return out
}

// Member returns one member.
func (b *Battle) Member(name string) (domain.Member, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.members[name]
	if !ok {
		return domain.Member{}, false
	}
	return *m, true
}

// Bots returns a snapshot of the bots ordered by name.
func (b *Battle) Bots() []domain.Bot {
	b.mu.Lock()
	defer b.mu.Unlock()
	bots := b.sortedBotsLocked()
	out := make([]domain.Bot, 0, len(bots))
	for _, bot := range bots {
		out = append(out, *bot)
	}
	return out
}

// Debriefings returns the results of games played in this battle.
func (b *Battle) Debriefings() []Debriefing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Debriefing(nil), b.debriefs...)
}

// ActivePoll returns the question of the poll in progress, if any.
func (b *Battle) ActivePoll() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.poll == nil {
		return "", false
	}
	return b.poll.Question(), true
}

// GameInfo returns the metadata of the hosted game when it could be read.
func (b *Battle) GameInfo() (resources.GameInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gameInfo == nil {
		return resources.GameInfo{}, false
	}
	return *b.gameInfo, true
}

// ModOptions returns the current game options.
func (b *Battle) ModOptions() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.modOptions))
	for k, v := range b.modOptions {
		out[k] = v
	}
	return out
}

// MarkZombie retires the battle. It keeps serving leaves and an already
// running game, refuses everything else, and closes once empty.
func (b *Battle) MarkZombie(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed || b.state == Zombie {
		return
	}
	b.state = Zombie
	b.stopVoteLocked(ctx)
	b.discussion.Cancel()
	b.checkCloseLocked(ctx)
}

// Close disposes the battle without consulting the registry. The registry
// calls this when it removes the battle itself.
func (b *Battle) Close(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed {
		return
	}
	if b.proc != nil && b.proc.IsRunning() {
		b.proc.Stop()
	}
	// The exit event never arrives once disposeLocked unsubscribes.
	b.header.IsRunning = false
	b.header.RunningSince = nil
	for _, name := range b.memberNamesLocked() {
		b.deps.Users.SetBattle(name, 0)
	}
	b.disposeLocked()
}

// CheckCloseBattle closes an empty battle or restarts an idle autohost.
func (b *Battle) CheckCloseBattle(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkCloseLocked(ctx)
}

func (b *Battle) checkCloseLocked(ctx context.Context) {
	if b.state == Closed || len(b.members) > 0 || b.processRunningLocked() {
		return
	}
	if b.header.IsAutohost && b.state != Zombie {
		b.runDirectLocked(ctx, "map", "")
		return
	}
	b.disposeLocked()
	b.deps.Lobby.RemoveBattle(ctx, b.id)
}

func (b *Battle) disposeLocked() {
	b.state = Closed
	b.pollTimer.Cancel()
	b.discussion.Cancel()
	if b.poll != nil {
		b.poll.Cancel()
		b.clearPollLocked()
	}
	if b.proc != nil {
		b.proc.Unsubscribe()
	}
	b.procGen++
	b.members = make(map[string]*domain.Member)
	if b.portHeld {
		b.deps.Ports.Release(b.header.Port)
		b.portHeld = false
	}
}

func (b *Battle) mutableLocked() error {
	switch b.state {
	case Zombie:
		return ErrZombie
	case Closed:
		return ErrClosed
	}
	return nil
}

func (b *Battle) processRunningLocked() bool {
	return b.proc != nil && b.proc.IsRunning()
}

func (b *Battle) memberNamesLocked() []string {
	names := make([]string, 0, len(b.members))
	for name := range b.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sayBattleLocked posts a server line to the battle, or privately to one
// member when to is set. Public lines are mirrored into a running game.
func (b *Battle) sayBattleLocked(ctx context.Context, text, to string) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		say := Say{
			User:    b.deps.Settings.BotName,
			Text:    line,
			IsEmote: true,
		}
		if to != "" {
			say.Place = PlaceBattlePrivate
			say.Target = to
			if err := b.deps.Users.Send(ctx, to, say); err != nil {
				b.logf("battle %d: say to %s: %v", b.id, to, err)
			}
			continue
		}
		if b.processRunningLocked() {
			b.proc.SayGame(line)
		}
		say.Place = PlaceBattle
		b.deps.Users.Broadcast(ctx, b.memberNamesLocked(), say)
	}
}

func (b *Battle) respondLocked(ctx context.Context, inv command.Invoker, text string) {
	if inv.IsServer() {
		b.sayBattleLocked(ctx, text, "")
		return
	}
	b.sayBattleLocked(ctx, text, inv.Name)
}

func (b *Battle) broadcastMembersLocked(ctx context.Context, msg Message) {
	b.deps.Users.Broadcast(ctx, b.memberNamesLocked(), msg)
}

// guard runs a collaborator call behind a failure boundary.
func (b *Battle) guard(what string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("battle %d: %s panic: %v", b.id, what, r)
			err = fmt.Errorf("%s: %v", what, r)
		}
	}()
	return fn()
}
