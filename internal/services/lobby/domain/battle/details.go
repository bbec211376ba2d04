package battle

import (
	"context"
	"strings"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/resources"
)

// validateAndFillLocked derives the computed header fields: title, engine,
// capacity, game and map.
func (b *Battle) validateAndFillLocked(ctx context.Context) {
	h := &b.header
	settings := b.deps.Settings
	if strings.TrimSpace(h.Title) == "" {
		h.Title = h.Founder + "'s game"
	}
	if h.Engine == "" || !h.Mode.Freeform() {
		h.Engine = settings.DefaultEngine
	}
	if settings.DefaultEngine != "" {
		// Start fetching the server engine early; StartGame waits on it.
		b.deps.Resources.Get(resources.Engine, settings.DefaultEngine)
	}

	h.MaxPlayers = h.Mode.DefaultMaxPlayers(h.MaxPlayers)
	if h.MaxPlayers > settings.MaxBattlePlayers && !h.IsAutohost {
		h.MaxPlayers = settings.MaxBattlePlayers
	}

	gameQuery := h.Game
	if gameQuery == "" {
		gameQuery = settings.DefaultGame
	}
	if game, ok := b.deps.Resources.FindGame(gameQuery); ok {
		h.Game = game
	} else {
		h.Game = gameQuery
	}

	if h.Map != "" {
		if name, ok := b.deps.Resources.FindMap(h.Map); ok {
			h.Map = name
		}
	} else {
		h.Map = b.deps.Resources.RecommendedMap(h.PlayerCount)
	}
	if h.Map == "" {
		h.Map = FallbackMap
	}

	info, err := b.deps.Resources.GameInfo(h.Game)
	if err != nil {
		b.logf("battle %d: game metadata for %s: %v", b.id, h.Game, err)
		b.gameInfo = nil
		return
	}
	b.gameInfo = &info
}

func (b *Battle) broadcastHeaderLocked(ctx context.Context, update HeaderUpdate) {
	update.ID = b.id
	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: update})
}

// SwitchMap changes the map. An empty name picks a recommended map.
func (b *Battle) SwitchMap(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchMapLocked(ctx, name)
}

func (b *Battle) switchMapLocked(ctx context.Context, name string) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Map = name
	b.validateAndFillLocked(ctx)
	b.broadcastHeaderLocked(ctx, HeaderUpdate{Map: ptr(b.header.Map)})
	return nil
}

// SwitchTitle renames the battle.
func (b *Battle) SwitchTitle(ctx context.Context, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchTitleLocked(ctx, title)
}

func (b *Battle) switchTitleLocked(ctx context.Context, title string) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Title = title
	b.validateAndFillLocked(ctx)
	b.broadcastHeaderLocked(ctx, HeaderUpdate{Title: ptr(b.header.Title)})
	return nil
}

// SwitchPassword sets or clears the join password. The full header is
// broadcast so clients only ever see the passworded flag.
func (b *Battle) SwitchPassword(ctx context.Context, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchPasswordLocked(ctx, password)
}

func (b *Battle) switchPasswordLocked(ctx context.Context, password string) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Password = password
	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: FullHeader(b.header)})
	return nil
}

// SwitchMaxPlayers changes the capacity, subject to the mode rules.
func (b *Battle) SwitchMaxPlayers(ctx context.Context, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchMaxPlayersLocked(ctx, n)
}

func (b *Battle) switchMaxPlayersLocked(ctx context.Context, n int) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	if n < 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "max players cannot be negative")
	}
	b.header.MaxPlayers = n
	b.validateAndFillLocked(ctx)
	b.broadcastHeaderLocked(ctx, HeaderUpdate{MaxPlayers: ptr(b.header.MaxPlayers)})
	return nil
}

// SwitchMode changes the game type. The map is re-picked and capacity
// defaults re-applied, so the full header is broadcast.
func (b *Battle) SwitchMode(ctx context.Context, mode domain.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchModeLocked(ctx, mode)
}

func (b *Battle) switchModeLocked(ctx context.Context, mode domain.Mode) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Mode = mode
	b.header.Map = ""
	b.validateAndFillLocked(ctx)
	if !mode.Freeform() {
		for _, m := range b.members {
			m.AllyNumber = 0
		}
	}
	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: FullHeader(b.header)})
	return nil
}

// SwitchEngine changes the engine version. Non-freeform battles always
// run the server engine.
func (b *Battle) SwitchEngine(ctx context.Context, engine string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchEngineLocked(ctx, engine)
}

func (b *Battle) switchEngineLocked(ctx context.Context, engine string) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Engine = engine
	b.validateAndFillLocked(ctx)
	b.broadcastHeaderLocked(ctx, HeaderUpdate{Engine: ptr(b.header.Engine)})
	return nil
}

// SwitchGame changes the game archive.
func (b *Battle) SwitchGame(ctx context.Context, game string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchGameLocked(ctx, game)
}

func (b *Battle) switchGameLocked(ctx context.Context, game string) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Game = game
	b.validateAndFillLocked(ctx)
	b.broadcastHeaderLocked(ctx, HeaderUpdate{Game: ptr(b.header.Game)})
	return nil
}

// SwitchBound changes one eligibility limit. Limits apply to the next join
// or status change; current players keep their seats.
func (b *Battle) SwitchBound(ctx context.Context, which domain.Bound, value int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.switchBoundLocked(ctx, which, value)
}

func (b *Battle) switchBoundLocked(_ context.Context, which domain.Bound, value int) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.Bounds = b.header.Bounds.With(which, value)
	return nil
}

// SwitchMinElo sets the minimum rating to play.
func (b *Battle) SwitchMinElo(ctx context.Context, elo int) error {
	return b.SwitchBound(ctx, domain.MinElo, elo)
}

// SwitchMaxElo sets the maximum rating to play.
func (b *Battle) SwitchMaxElo(ctx context.Context, elo int) error {
	return b.SwitchBound(ctx, domain.MaxElo, elo)
}

// SwitchInviteMMPlayers sets how many eligible players must remain after a
// game before everyone is offered to the matchmaker.
func (b *Battle) SwitchInviteMMPlayers(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inviteMM = n
}

// SwitchAutohost turns the battle into an autohost or hands it to founder.
func (b *Battle) SwitchAutohost(ctx context.Context, on bool, founder string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.header.IsAutohost = on
	if on {
		b.header.Founder = autohostFounder(b.id)
	} else {
		b.header.Founder = founder
	}
	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: FullHeader(b.header)})
	return nil
}

// SetModOptions replaces the game options and shows them to members.
func (b *Battle) SetModOptions(ctx context.Context, options map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutableLocked(); err != nil {
		return err
	}
	b.modOptions = make(map[string]string, len(options))
	for k, v := range options {
		b.modOptions[k] = v
	}
	b.broadcastMembersLocked(ctx, SetModOptions{BattleID: b.id, Options: b.modOptionsCopyLocked()})
	return nil
}

// AddBot adds or updates an AI participant owned by a member.
func (b *Battle) AddBot(ctx context.Context, bot domain.Bot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutableLocked(); err != nil {
		return err
	}
	if bot.Name == "" || bot.AI == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "bot name and AI are required")
	}
	if bot.Owner == "" {
		bot.Owner = b.header.Founder
	}
	if !b.header.Mode.Freeform() {
		bot.AllyNumber = 0
	}
	b.bots[bot.Name] = &bot
	b.broadcastMembersLocked(ctx, botStatus(b.id, &bot))
	return nil
}

// RemoveBot removes an AI participant.
func (b *Battle) RemoveBot(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bots[name]; !ok {
		return apperrors.New(apperrors.CodeInvalidArgument, "no such bot: "+name)
	}
	delete(b.bots, name)
	b.broadcastMembersLocked(ctx, RemoveBot{BattleID: b.id, Name: name})
	return nil
}
