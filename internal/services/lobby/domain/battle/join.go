package battle

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage"
)

// Join adds name to the battle. Rejections are reported to the user and
// returned; eligibility violations are not rejections, they demote the
// member to spectator.
func (b *Battle) Join(ctx context.Context, name, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.joinLocked(ctx, name, password)
}

func (b *Battle) joinLocked(ctx context.Context, name, password string) error {
	if err := b.mutableLocked(); err != nil {
		b.sayBattleLocked(ctx, apperrors.MessageOf(err, err.Error()), name)
		return err
	}
	user, ok := b.deps.Users.Lookup(name)
	if !ok {
		return ErrNotConnected
	}
	if b.header.IsPassworded() && password != b.header.Password {
		b.sayBattleLocked(ctx, ErrWrongPassword.Message, name)
		return ErrWrongPassword
	}
	if b.kicked.IsKicked(name) {
		b.sayBattleLocked(ctx, "You were kicked from battle: "+ErrKicked.Message, name)
		return ErrKicked
	}

	m, ok := b.members[name]
	if !ok {
		m = &domain.Member{
			Name:           name,
			ScriptPassword: b.ScriptPassword(name),
		}
		b.members[name] = m
	}
	m.Profile = user
	b.validateMemberLocked(ctx, m)
	b.deps.Users.SetBattle(name, b.id)

	join := JoinSuccess{
		BattleID: b.id,
		Members:  make([]MemberStatus, 0, len(b.members)),
		Options:  b.modOptionsCopyLocked(),
	}
	for _, other := range b.memberNamesLocked() {
		join.Members = append(join.Members, memberStatus(b.id, b.members[other]))
	}
	for _, bot := range b.sortedBotsLocked() {
		join.Bots = append(join.Bots, botStatus(b.id, bot))
	}
	if err := b.deps.Users.Send(ctx, name, join); err != nil {
		b.logf("battle %d: join success to %s: %v", b.id, name, err)
	}
	b.deps.Users.Broadcast(ctx, b.otherMembersLocked(name), memberStatus(b.id, m))
	b.recalcCountsLocked(ctx)

	if b.processRunningLocked() {
		b.proc.AddUser(name, m.ScriptPassword, user)
		b.sayBattleLocked(ctx, "THIS GAME IS CURRENTLY IN PROGRESS, PLEASE WAIT UNTIL IT ENDS! Running for "+b.runningForLocked(), name)
		b.sayBattleLocked(ctx, "If you say !notify, I will message you when the current game ends.", name)
	}
	return nil
}

// runningForLocked formats how long the current game has been going, in
// whole seconds.
func (b *Battle) runningForLocked() string {
	now := b.deps.Clock.Now()
	since := now
	if b.proc != nil {
		if at := b.proc.Context().GameStartedAt; at != nil {
			since = *at
		}
	}
	if since.Equal(now) && b.header.RunningSince != nil {
		since = *b.header.RunningSince
	}
	d := now.Sub(since).Truncate(time.Second)
	h := int(d.Hours())
	return fmt.Sprintf("%d:%02d:%02d", h, int(d.Minutes())%60, int(d.Seconds())%60)
}

// validateMemberLocked applies the mode rule and every eligibility rule to
// m, demoting it to spectator with one message per violated rule.
func (b *Battle) validateMemberLocked(ctx context.Context, m *domain.Member) {
	if !b.header.Mode.Freeform() {
		m.AllyNumber = 0
	}
	if m.IsSpectator {
		return
	}
	for _, reason := range b.eligibilityLocked(m) {
		m.IsSpectator = true
		b.sayBattleLocked(ctx, reason, m.Name)
	}
}

// eligibilityLocked returns the reasons m may not play, in a fixed order.
// The capacity count includes m itself.
func (b *Battle) eligibilityLocked(m *domain.Member) []string {
	var reasons []string
	players := 0
	for _, other := range b.members {
		if !other.IsSpectator {
			players++
		}
	}
	if _, counted := b.members[m.Name]; !counted {
		players++
	}
	if players > b.header.MaxPlayers {
		reasons = append(reasons, "This battle is full.")
	}

	u := m.Profile
	bounds := b.header.Bounds
	if u.Elo > bounds.MaxElo && u.MmElo > bounds.MaxElo {
		reasons = append(reasons, fmt.Sprintf("Your rating (%d) is too high. The maximum rating to play in this battle is %d.", min(u.Elo, u.MmElo), bounds.MaxElo))
	}
	if u.Elo < bounds.MinElo && u.MmElo < bounds.MinElo {
		reasons = append(reasons, fmt.Sprintf("Your rating (%d) is too low. The minimum rating to play in this battle is %d.", max(u.Elo, u.MmElo), bounds.MinElo))
	}
	if u.Level > bounds.MaxLevel {
		reasons = append(reasons, fmt.Sprintf("Your level (%d) is too high. The maximum level to play in this battle is %d.", u.Level, bounds.MaxLevel))
	}
	if u.Level < bounds.MinLevel {
		reasons = append(reasons, fmt.Sprintf("Your level (%d) is too low. The minimum level to play in this battle is %d.", u.Level, bounds.MinLevel))
	}
	if u.Rank > bounds.MaxRank {
		reasons = append(reasons, fmt.Sprintf("Your Rank (%s) is too high. The maximum Rank to play in this battle is %s.", domain.RankName(u.Rank), domain.RankName(bounds.MaxRank)))
	}
	if u.Rank < bounds.MinRank {
		reasons = append(reasons, fmt.Sprintf("Your Rank (%s) is too low. The minimum Rank to play in this battle is %s.", domain.RankName(u.Rank), domain.RankName(bounds.MinRank)))
	}
	return reasons
}

// Leave removes name from the battle. Leaving is allowed on a zombie.
func (b *Battle) Leave(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leaveLocked(ctx, name)
}

func (b *Battle) leaveLocked(ctx context.Context, name string) error {
	if _, ok := b.members[name]; !ok {
		return ErrNotMember
	}
	recipients := b.memberNamesLocked()
	delete(b.members, name)
	b.deps.Users.SetBattle(name, 0)
	b.deps.Users.Broadcast(ctx, recipients, LeftBattle{BattleID: b.id, User: name})
	b.recalcCountsLocked(ctx)
	b.checkCloseLocked(ctx)
	return nil
}

// Kick bans name for five minutes and removes them from the battle.
func (b *Battle) Kick(ctx context.Context, name, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kickLocked(ctx, name, reason)
}

func (b *Battle) kickLocked(ctx context.Context, name, reason string) error {
	if err := b.mutableLocked(); err != nil {
		return err
	}
	if _, ok := b.members[name]; !ok {
		return ErrNotMember
	}
	b.kicked.Add(name)
	if b.deps.Kicks != nil {
		err := b.deps.Kicks.RecordKick(ctx, storage.Kick{
			BattleID: b.id,
			Name:     name,
			Reason:   reason,
			KickedAt: b.deps.Clock.Now(),
		})
		if err != nil {
			b.logf("battle %d: record kick of %s: %v", b.id, name, err)
		}
	}
	b.sayBattleLocked(ctx, "You were kicked from battle: "+reason, name)
	return b.leaveLocked(ctx, name)
}

// UpdateMemberStatus changes a member's spectator flag and ally number and
// re-runs eligibility.
func (b *Battle) UpdateMemberStatus(ctx context.Context, name string, spectator bool, ally int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutableLocked(); err != nil {
		return err
	}
	m, ok := b.members[name]
	if !ok {
		return ErrNotMember
	}
	if user, ok := b.deps.Users.Lookup(name); ok {
		m.Profile = user
	}
	m.IsSpectator = spectator
	m.AllyNumber = ally
	if !spectator {
		for _, reason := range b.eligibilityLocked(m) {
			m.IsSpectator = true
			b.sayBattleLocked(ctx, reason, name)
		}
	}
	if !b.header.Mode.Freeform() {
		m.AllyNumber = 0
	}
	b.broadcastMembersLocked(ctx, memberStatus(b.id, m))
	b.recalcCountsLocked(ctx)
	return nil
}

func (b *Battle) forceSpectatorLocked(ctx context.Context, name string) error {
	m, ok := b.members[name]
	if !ok {
		return ErrNotMember
	}
	if m.IsSpectator {
		return nil
	}
	m.IsSpectator = true
	b.broadcastMembersLocked(ctx, memberStatus(b.id, m))
	b.recalcCountsLocked(ctx)
	return nil
}

// ForceSpectator demotes a member to spectator.
func (b *Battle) ForceSpectator(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forceSpectatorLocked(ctx, name)
}

// recalcCountsLocked recomputes the spectator and player counts and
// announces them when they changed.
func (b *Battle) recalcCountsLocked(ctx context.Context) {
	specs, players := 0, 0
	for _, m := range b.members {
		if m.IsSpectator {
			specs++
		} else {
			players++
		}
	}
	if specs == b.header.SpectatorCount && players == b.header.PlayerCount {
		return
	}
	b.header.SpectatorCount = specs
	b.header.PlayerCount = players
	if b.state == Closed {
		return
	}
	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: HeaderUpdate{
		ID:             b.id,
		SpectatorCount: ptr(specs),
		PlayerCount:    ptr(players),
	}})
}

func (b *Battle) otherMembersLocked(name string) []string {
	names := b.memberNamesLocked()
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func (b *Battle) modOptionsCopyLocked() map[string]string {
	if len(b.modOptions) == 0 {
		return nil
	}
	out := make(map[string]string, len(b.modOptions))
	for k, v := range b.modOptions {
		out[k] = v
	}
	return out
}

// RequestConnect hands connection details for the running game to name,
// letting a start-roster player back in without the password.
func (b *Battle) RequestConnect(ctx context.Context, name, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed {
		return ErrClosed
	}
	if !b.processRunningLocked() {
		return ErrNotRunning
	}
	user, ok := b.deps.Users.Lookup(name)
	if !ok {
		return ErrNotConnected
	}
	_, member := b.members[name]
	inRoster := b.startSetup != nil && b.startSetup.HasPlayer(name)
	if !member && !inRoster && b.header.IsPassworded() && password != b.header.Password {
		b.sayBattleLocked(ctx, ErrWrongPassword.Message, name)
		return ErrWrongPassword
	}
	pw := b.ScriptPassword(name)
	b.proc.AddUser(name, pw, user)
	if inRoster && !member {
		if err := b.joinLocked(ctx, name, b.header.Password); err != nil {
			b.logf("battle %d: rejoin %s: %v", b.id, name, err)
		}
	}
	return b.deps.Users.Send(ctx, name, b.connectSpringLocked(pw))
}

func (b *Battle) connectSpringLocked(scriptPassword string) ConnectSpring {
	return ConnectSpring{
		BattleID:       b.id,
		Engine:         b.header.Engine,
		IP:             b.header.IP,
		Port:           b.header.Port,
		Map:            b.header.Map,
		Game:           b.header.Game,
		ScriptPassword: scriptPassword,
		Mode:           b.header.Mode.String(),
		Title:          b.header.Title,
	}
}
