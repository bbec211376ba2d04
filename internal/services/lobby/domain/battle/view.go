package battle

import (
	"context"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/command"
)

// battleView hands commands access to a battle whose lock is already held.
type battleView struct {
	b   *Battle
	ctx context.Context
}

var _ command.Battle = (*battleView)(nil)

func (b *Battle) viewLocked(ctx context.Context) *battleView {
	return &battleView{b: b, ctx: ctx}
}

func (v *battleView) Header() domain.Header { return v.b.header }

func (v *battleView) Member(name string) (domain.Member, bool) {
	m, ok := v.b.members[name]
	if !ok {
		return domain.Member{}, false
	}
	return *m, true
}

func (v *battleView) MemberNames() []string { return v.b.memberNamesLocked() }

func (v *battleView) IsPlayerInGame(name string) bool { return v.b.isPlayerInGameLocked(name) }

func (v *battleView) Respond(inv command.Invoker, text string) { v.b.respondLocked(v.ctx, inv, text) }

func (v *battleView) FindMap(name string) (string, bool) { return v.b.deps.Resources.FindMap(name) }

func (v *battleView) FindGame(name string) (string, bool) { return v.b.deps.Resources.FindGame(name) }

func (v *battleView) RecommendedMap() string {
	return v.b.deps.Resources.RecommendedMap(v.b.header.PlayerCount)
}

func (v *battleView) RegisterVote(ctx context.Context, voter string, inFavor bool) error {
	return v.b.registerVoteLocked(ctx, voter, inFavor)
}

func (v *battleView) StopVote() { v.b.stopVoteLocked(v.ctx) }

func (v *battleView) AddNotify(name string) { v.b.addNotifyLocked(name) }

func (v *battleView) Kick(ctx context.Context, name, reason string) error {
	return v.b.kickLocked(ctx, name, reason)
}

func (v *battleView) ForceSpectator(ctx context.Context, name string) error {
	return v.b.forceSpectatorLocked(ctx, name)
}

func (v *battleView) StartGame(ctx context.Context) error { return v.b.startGameLocked(ctx) }

func (v *battleView) ExitGame(ctx context.Context) error { return v.b.exitGameLocked(ctx) }

func (v *battleView) Balance(ctx context.Context, teams int) error {
	return v.b.balanceLocked(ctx, false, teams)
}

func (v *battleView) SwitchMap(ctx context.Context, name string) error {
	return v.b.switchMapLocked(ctx, name)
}

func (v *battleView) SwitchTitle(ctx context.Context, title string) error {
	return v.b.switchTitleLocked(ctx, title)
}

func (v *battleView) SwitchPassword(ctx context.Context, password string) error {
	return v.b.switchPasswordLocked(ctx, password)
}

func (v *battleView) SwitchMaxPlayers(ctx context.Context, n int) error {
	return v.b.switchMaxPlayersLocked(ctx, n)
}

func (v *battleView) SwitchMode(ctx context.Context, mode domain.Mode) error {
	return v.b.switchModeLocked(ctx, mode)
}

func (v *battleView) SwitchEngine(ctx context.Context, engine string) error {
	return v.b.switchEngineLocked(ctx, engine)
}

func (v *battleView) SwitchGame(ctx context.Context, game string) error {
	return v.b.switchGameLocked(ctx, game)
}

func (v *battleView) SwitchBound(ctx context.Context, which domain.Bound, value int) error {
	return v.b.switchBoundLocked(ctx, which, value)
}
