package battle

import (
	"context"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/command"
)

// Say handles a lobby chat line addressed to the battle. The line is shown
// to members, relayed into a running game and checked for a command.
func (b *Battle) Say(ctx context.Context, say Say) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if say.User == b.deps.Settings.BotName {
		return nil
	}
	if b.state == Closed {
		return ErrClosed
	}
	m, ok := b.members[say.User]
	if !ok {
		return ErrNotMember
	}
	user := m.Profile
	if u, ok := b.deps.Users.Lookup(say.User); ok {
		user = u
	}
	if say.Place == "" {
		say.Place = PlaceBattle
	}
	banned := user.BanMute || user.BanSpecChat

	if !banned && say.Place == PlaceBattle {
		b.broadcastMembersLocked(ctx, say)
	}
	if say.Place == PlaceBattle && !say.IsEmote && !banned && say.AllowRelay && b.processRunningLocked() {
		b.proc.SayGame("<" + say.User + ">" + say.Text)
	}
	if say.IsEmote {
		return nil
	}
	_, err := b.checkCommandLocked(ctx, say.User, user, say.Text)
	return err
}

// checkCommandLocked runs text as a command when it is one. handled is
// true when text named a known command.
func (b *Battle) checkCommandLocked(ctx context.Context, name string, user domain.User, text string) (bool, error) {
	shortcut, args, ok := command.Parse(text)
	if !ok {
		return false, nil
	}
	cmd, ok := b.deps.Commands.Lookup(shortcut)
	if !ok {
		return false, nil
	}
	inv := command.Invoker{Name: name, Moderator: user.IsModerator}
	return true, b.runCommandLocked(ctx, cmd, inv, args)
}

// RunCommand executes a command on behalf of inv, applying the same
// permission checks as chat. Unknown shortcuts are ignored.
func (b *Battle) RunCommand(ctx context.Context, inv command.Invoker, shortcut, args string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmd, ok := b.deps.Commands.Lookup(shortcut)
	if !ok {
		return nil
	}
	return b.runCommandLocked(ctx, cmd, inv, args)
}

func (b *Battle) runCommandLocked(ctx context.Context, cmd command.Command, inv command.Invoker, args string) error {
	switch b.state {
	case Zombie:
		b.respondLocked(ctx, inv, ErrZombie.Message)
		return ErrZombie
	case Closed:
		return ErrClosed
	case PostGameDiscussion:
		b.respondLocked(ctx, inv, ErrDiscussion.Message)
		return ErrDiscussion
	}

	view := b.viewLocked(ctx)
	perm, reason := command.CheckPermission(cmd, view, inv)
	if perm == command.Deny {
		b.respondLocked(ctx, inv, reason)
		return ErrCommandDenied
	}
	prepared, err := cmd.Arm(ctx, view, inv, args)
	if err != nil {
		b.respondLocked(ctx, inv, apperrors.MessageOf(err, "Invalid command arguments"))
		return err
	}
	if perm == command.Run {
		return cmd.Run(ctx, view, inv, prepared.Args)
	}
	return b.startVoteLocked(ctx, voteRequest{
		cmd:      cmd,
		invoker:  inv,
		prepared: prepared,
	})
}

// runDirectLocked executes a command as the server, skipping permissions.
func (b *Battle) runDirectLocked(ctx context.Context, shortcut, args string) {
	cmd, ok := b.deps.Commands.Lookup(shortcut)
	if !ok {
		b.logf("battle %d: command %q is not registered", b.id, shortcut)
		return
	}
	view := b.viewLocked(ctx)
	err := b.guard("command "+shortcut, func() error {
		prepared, err := cmd.Arm(ctx, view, command.Invoker{}, args)
		if err != nil {
			return err
		}
		return cmd.Run(ctx, view, command.Invoker{}, prepared.Args)
	})
	if err != nil {
		b.logf("battle %d: run %s: %v", b.id, shortcut, err)
	}
}

func (b *Battle) isPlayerInGameLocked(name string) bool {
	if !b.processRunningLocked() {
		return false
	}
	return b.proc.Context().IsPlayer(name)
}

func (b *Battle) addNotifyLocked(name string) {
	for _, n := range b.notify {
		if n == name {
			return
		}
	}
	b.notify = append(b.notify, name)
}

// playerSaid handles a chat line typed inside the running game. Commands
// are never relayed.
func (b *Battle) playerSaid(ctx context.Context, gen uint64, name, text string, vis dedicated.Visibility) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.procGen || b.state == Closed {
		return
	}
	user, connected := b.deps.Users.Lookup(name)
	handled, err := b.checkCommandLocked(ctx, name, user, text)
	if err != nil {
		b.logf("battle %d: in-game command from %s: %v", b.id, name, err)
	}
	if handled {
		return
	}

	isPlayer := b.proc != nil && b.proc.Context().IsPlayer(name)
	if !isPlayer && b.startSetup != nil {
		mode := b.startSetup.Mode
		if mode == domain.ModeFFA || (b.startSetup.IsMatchMaker && mode != domain.ModeChickens) {
			return
		}
	}
	if !connected || user.BanMute || (user.BanSpecChat && !isPlayer) {
		return
	}
	if vis != dedicated.Public {
		return
	}
	b.broadcastMembersLocked(ctx, Say{User: name, Text: text, Place: PlaceBattle})
}
