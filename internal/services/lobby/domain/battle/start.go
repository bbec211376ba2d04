package battle

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/balance"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
)

// StartGame balances teams unless the battle is freeform, makes sure the
// engine is installed and launches the dedicated server. Failures are said
// into the battle and leave it open.
func (b *Battle) StartGame(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startGameLocked(ctx)
}

func (b *Battle) startGameLocked(ctx context.Context) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	if b.starting || b.header.IsRunning || b.processRunningLocked() {
		b.sayBattleLocked(ctx, ErrAlreadyRunning.Message, "")
		return ErrAlreadyRunning
	}
	if b.state != Open {
		return ErrCannotStart
	}

	ctx, span := tracer.Start(ctx, "battle.StartGame", trace.WithAttributes(
		attribute.Int("battle.id", b.id),
		attribute.String("battle.mode", b.header.Mode.String()),
		attribute.String("battle.engine", b.header.Engine),
	))
	defer span.End()

	b.starting = true
	defer func() { b.starting = false }()

	if !b.header.Mode.Freeform() {
		ok, err := b.runBalanceLocked(ctx, true, 0)
		if err != nil {
			span.RecordError(err)
		}
		if !ok {
			span.SetStatus(codes.Error, "cannot start")
			return ErrCannotStart
		}
	}
	if err := b.ensureEngineLocked(ctx); err != nil {
		span.SetStatus(codes.Error, "engine unavailable")
		return err
	}
	// The lock may have been released while waiting for the engine.
	if b.state != Open {
		if err := b.mutableLocked(); err != nil {
			return err
		}
		return ErrCannotStart
	}
	if b.processRunningLocked() {
		b.sayBattleLocked(ctx, ErrAlreadyRunning.Message, "")
		return ErrAlreadyRunning
	}

	setup := b.startSetupLocked()
	proc := b.replaceProcessLocked()
	if err := proc.Host(ctx, setup, b.header.IP, b.header.Port); err != nil {
		proc.Unsubscribe()
		b.proc = nil
		b.logf("battle %d: host game: %v", b.id, err)
		b.sayBattleLocked(ctx, apperrors.MessageOf(err, ErrStartFailed.Message), "")
		span.RecordError(err)
		span.SetStatus(codes.Error, "host failed")
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			return apperrors.Wrap(apperrors.CodeBattleProcessStartFailed, ErrStartFailed.Message, err)
		}
		return err
	}

	now := b.deps.Clock.Now()
	b.startSetup = &setup
	b.state = InGame
	b.discussion.Cancel()
	b.header.IsRunning = true
	b.header.RunningSince = &now

	var g errgroup.Group
	for _, name := range b.memberNamesLocked() {
		msg := b.connectSpringLocked(b.members[name].ScriptPassword)
		g.Go(func() error {
			if err := b.deps.Users.Send(ctx, name, msg); err != nil {
				b.logf("battle %d: connect %s: %v", b.id, name, err)
			}
			return nil
		})
	}
	if b.deps.MatchMaker != nil {
		for _, p := range setup.Players {
			if p.IsSpectator {
				continue
			}
			g.Go(func() error {
				if err := b.deps.MatchMaker.RemoveUser(ctx, p.Name, false); err != nil {
					b.logf("battle %d: remove %s from matchmaker: %v", b.id, p.Name, err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: FullHeader(b.header)})
	return nil
}

// ensureEngineLocked waits for the engine download with a hard deadline.
// b.mu is released while waiting.
func (b *Battle) ensureEngineLocked(ctx context.Context) error {
	d := b.deps.Resources.Get(resources.Engine, b.header.Engine)
	if d == nil {
		return nil
	}
	select {
	case <-d.Done():
	default:
		b.sayBattleLocked(ctx, "Host downloading the engine", "")
		expired := make(chan struct{})
		stop := b.deps.Clock.AfterFunc(b.deps.Settings.EngineWait, func() { close(expired) })
		b.mu.Unlock()
		select {
		case <-d.Done():
		case <-expired:
		}
		b.mu.Lock()
		stop.Stop()
	}
	if !d.IsComplete() {
		if err := d.Err(); err != nil {
			b.logf("battle %d: engine %s: %v", b.id, b.header.Engine, err)
		}
		b.sayBattleLocked(ctx, ErrEngineMissing.Message, "")
		return ErrEngineMissing
	}
	return nil
}

func (b *Battle) startSetupLocked() dedicated.StartSetup {
	setup := dedicated.StartSetup{
		BattleID:     b.id,
		Title:        b.header.Title,
		Engine:       b.header.Engine,
		Game:         b.header.Game,
		Map:          b.header.Map,
		Mode:         b.header.Mode,
		IsMatchMaker: b.header.IsMatchMaker,
		ModOptions:   b.modOptionsCopyLocked(),
	}
	for _, name := range b.memberNamesLocked() {
		m := b.members[name]
		setup.Players = append(setup.Players, dedicated.Player{
			Name:           m.Name,
			ScriptPassword: m.ScriptPassword,
			AllyNumber:     m.AllyNumber,
			IsSpectator:    m.IsSpectator,
			Profile:        m.Profile,
		})
	}
	for _, bot := range b.sortedBotsLocked() {
		setup.Bots = append(setup.Bots, *bot)
	}
	return setup
}

func (b *Battle) sortedBotsLocked() []*domain.Bot {
	names := make([]string, 0, len(b.bots))
	for name := range b.bots {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*domain.Bot, 0, len(names))
	for _, name := range names {
		out = append(out, b.bots[name])
	}
	return out
}

// replaceProcessLocked unsubscribes the previous process before binding a
// fresh one, so stale events can never reach the battle.
func (b *Battle) replaceProcessLocked() Process {
	if b.proc != nil {
		b.proc.Unsubscribe()
	}
	b.procGen++
	p := b.deps.NewProcess()
	p.Subscribe(processEvents{b: b, gen: b.procGen})
	b.proc = p
	return p
}

// ExitGame stops the running game.
func (b *Battle) ExitGame(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitGameLocked(ctx)
}

func (b *Battle) exitGameLocked(ctx context.Context) error {
	if !b.processRunningLocked() {
		return ErrNotRunning
	}
	b.sayBattleLocked(ctx, "Stopping the game", "")
	b.proc.Stop()
	return nil
}

// Balance assigns teams outside of a game start.
func (b *Battle) Balance(ctx context.Context, teams int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balanceLocked(ctx, false, teams)
}

func (b *Battle) balanceLocked(ctx context.Context, isGameStart bool, teams int) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	ok, err := b.runBalanceLocked(ctx, isGameStart, teams)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCannotStart
	}
	return nil
}

// runBalanceLocked asks the balancer for teams and applies them. A
// balancer failure is logged and reported as a generic message.
func (b *Battle) runBalanceLocked(ctx context.Context, isGameStart bool, teams int) (bool, error) {
	req := balance.Request{
		Mode:        b.header.Mode,
		IsGameStart: isGameStart,
		AllyTeams:   teams,
		Founder:     b.header.Founder,
	}
	for _, name := range b.memberNamesLocked() {
		m := b.members[name]
		req.Players = append(req.Players, balance.Player{
			Name:        m.Name,
			Elo:         m.Profile.Elo,
			IsSpectator: m.IsSpectator,
			AllyNumber:  m.AllyNumber,
		})
	}
	for _, bot := range b.sortedBotsLocked() {
		req.Bots = append(req.Bots, *bot)
	}

	var res balance.Result
	err := b.guard("balance", func() error {
		var err error
		res, err = b.deps.Balancer.Balance(ctx, req)
		return err
	})
	if err != nil {
		b.logf("battle %d: balance: %v", b.id, err)
		b.sayBattleLocked(ctx, "Balancing failed, please try again", "")
		return false, err
	}
	if res.Message != "" {
		b.sayBattleLocked(ctx, res.Message, "")
	}
	if !res.CanStart && isGameStart {
		return false, nil
	}
	b.applyBalanceLocked(ctx, res)
	return res.CanStart, nil
}

func (b *Battle) applyBalanceLocked(ctx context.Context, res balance.Result) {
	if len(res.Players) > 0 {
		assigned := make(map[string]bool, len(res.Players))
		for _, p := range res.Players {
			assigned[p.Name] = true
			if m, ok := b.members[p.Name]; ok {
				m.IsSpectator = p.IsSpectator
				m.AllyNumber = p.AllyNumber
			}
		}
		for name, m := range b.members {
			if !assigned[name] {
				m.IsSpectator = true
			}
		}
	}
	if res.DeleteBots {
		for _, bot := range b.sortedBotsLocked() {
			b.broadcastMembersLocked(ctx, RemoveBot{BattleID: b.id, Name: bot.Name})
		}
		clear(b.bots)
	}
	for _, bot := range res.Bots {
		if bot.Owner == "" {
			bot.Owner = b.header.Founder
		}
		b.bots[bot.Name] = &bot
	}

	for _, name := range b.memberNamesLocked() {
		b.broadcastMembersLocked(ctx, memberStatus(b.id, b.members[name]))
	}
	for _, bot := range b.sortedBotsLocked() {
		b.broadcastMembersLocked(ctx, botStatus(b.id, bot))
	}
	b.recalcCountsLocked(ctx)
}

// processEvents binds one process generation to the battle.
type processEvents struct {
	b   *Battle
	gen uint64
}

func (e processEvents) DedicatedStarted() {
	e.b.processStarted(context.Background(), e.gen)
}

func (e processEvents) GameStarted() {
	e.b.processStarted(context.Background(), e.gen)
}

func (e processEvents) PlayerSaid(user, text string, vis dedicated.Visibility) {
	e.b.playerSaid(context.Background(), e.gen, user, text, vis)
}

func (e processEvents) DedicatedExited(result dedicated.Context) {
	e.b.processExited(context.Background(), e.gen, result)
}

// processStarted cancels any poll; a new game invalidates it.
func (b *Battle) processStarted(ctx context.Context, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.procGen {
		return
	}
	b.stopVoteLocked(ctx)
}
