// Package command is the battle governance command table. The Registry is
// built once at startup and shared read-only by every battle.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// Access restricts when a command may be used.
type Access int

const (
	// Anywhere commands work in and out of game.
	Anywhere Access = iota
	// NotIngame commands are refused while a game runs.
	NotIngame
	// Ingame commands need a running game.
	Ingame
)

// Permission is the outcome of the permission check.
type Permission int

const (
	// Deny refuses the invocation with a reason.
	Deny Permission = iota
	// Vote opens a poll for the command.
	Vote
	// Run executes the command immediately.
	Run
)

func (p Permission) String() string {
	switch p {
	case Run:
		return "run"
	case Vote:
		return "vote"
	default:
		return "deny"
	}
}

// Invoker is whoever typed the command. The zero Invoker is the server
// itself, used for scheduled autohost votes.
type Invoker struct {
	Name      string
	Moderator bool
}

// IsServer reports whether the invocation came from the battle itself.
func (i Invoker) IsServer() bool { return i.Name == "" }

// Policy tunes the permission check for one command.
type Policy struct {
	// Direct commands always run without a vote.
	Direct bool
	// RunOnly commands are never put to a vote.
	RunOnly bool
}

// Prepared is a validated invocation ready to be voted on or run.
type Prepared struct {
	Question string
	Args     string
}

// Battle is the view of a battle a command acts on. Implementations are
// only valid while the battle serializes the call.
type Battle interface {
	Header() domain.Header
	Member(name string) (domain.Member, bool)
	MemberNames() []string
	IsPlayerInGame(name string) bool
	Respond(inv Invoker, text string)

	FindMap(name string) (string, bool)
	FindGame(name string) (string, bool)
	RecommendedMap() string

	RegisterVote(ctx context.Context, voter string, inFavor bool) error
	StopVote()
	AddNotify(name string)

	Kick(ctx context.Context, name, reason string) error
	ForceSpectator(ctx context.Context, name string) error
	StartGame(ctx context.Context) error
	ExitGame(ctx context.Context) error
	Balance(ctx context.Context, teams int) error

	SwitchMap(ctx context.Context, name string) error
	SwitchTitle(ctx context.Context, title string) error
	SwitchPassword(ctx context.Context, password string) error
	SwitchMaxPlayers(ctx context.Context, n int) error
	SwitchMode(ctx context.Context, mode domain.Mode) error
	SwitchEngine(ctx context.Context, engine string) error
	SwitchGame(ctx context.Context, game string) error
	SwitchBound(ctx context.Context, which domain.Bound, value int) error
}

// Command is one governance command.
type Command interface {
	Shortcut() string
	Help() string
	Access() Access
	Policy() Policy
	// Arm validates args and phrases the poll question.
	Arm(ctx context.Context, b Battle, inv Invoker, args string) (Prepared, error)
	// Run executes a prepared invocation.
	Run(ctx context.Context, b Battle, inv Invoker, args string) error
}

// ErrBadUsage matches Arm failures caused by invalid arguments.
var ErrBadUsage = apperrors.New(apperrors.CodeCommandBadUsage, "bad command usage")

func badUsage(format string, args ...any) error {
	return apperrors.New(apperrors.CodeCommandBadUsage, fmt.Sprintf(format, args...))
}

// CheckPermission decides whether inv may run, vote on, or not use cmd.
func CheckPermission(cmd Command, b Battle, inv Invoker) (Permission, string) {
	h := b.Header()
	switch cmd.Access() {
	case NotIngame:
		if h.IsRunning {
			return Deny, "This command cannot be used while the game is running"
		}
	case Ingame:
		if !h.IsRunning {
			return Deny, "This command needs a running game"
		}
	}

	if inv.IsServer() || inv.Moderator {
		return Run, ""
	}
	if !h.IsAutohost && inv.Name == h.Founder {
		return Run, ""
	}
	policy := cmd.Policy()
	if policy.Direct {
		return Run, ""
	}
	if policy.RunOnly {
		return Deny, "Only the battle founder or a moderator can do this"
	}
	if canVote(b, inv.Name) {
		return Vote, ""
	}
	return Deny, "Please join the game to start a vote"
}

func canVote(b Battle, name string) bool {
	if b.Header().IsRunning && b.IsPlayerInGame(name) {
		return true
	}
	m, ok := b.Member(name)
	return ok && !m.IsSpectator
}

// Registry maps shortcuts to commands.
type Registry struct {
	byName map[string]Command
}

// NewRegistry builds a registry and rejects duplicate shortcuts.
func NewRegistry(cmds ...Command) (*Registry, error) {
	r := &Registry{byName: make(map[string]Command, len(cmds))}
	for _, cmd := range cmds {
		if cmd == nil {
			continue
		}
		name := strings.ToLower(cmd.Shortcut())
		if name == "" {
			return nil, fmt.Errorf("command %T has no shortcut", cmd)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate command shortcut %q", name)
		}
		r.byName[name] = cmd
	}
	return r, nil
}

// Default returns the registry of built-in commands.
func Default() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup finds a command by shortcut, case-insensitively.
func (r *Registry) Lookup(name string) (Command, bool) {
	if r == nil {
		return nil, false
	}
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// Names returns all shortcuts in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Parse splits chat text of the form "!name args" into a shortcut and its
// arguments. ok is false for anything that is not a command invocation.
func Parse(text string) (name, args string, ok bool) {
	if len(text) < 2 || text[0] != '!' {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimSpace(text[1:]), " ", 2)
	if fields[0] == "" {
		return "", "", false
	}
	name = fields[0]
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}
	return name, args, true
}
