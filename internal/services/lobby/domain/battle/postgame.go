package battle

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/dedicated"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/command"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/poll"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage"
)

// processExited reconciles the battle after its engine process ended.
func (b *Battle) processExited(ctx context.Context, gen uint64, result dedicated.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.procGen || b.state == Closed {
		return
	}
	ctx, span := tracer.Start(ctx, "battle.PostGame", trace.WithAttributes(
		attribute.Int("battle.id", b.id),
		attribute.Bool("battle.crashed", result.Crashed),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			b.logf("battle %d: post-game panic: %v", b.id, r)
		}
	}()

	b.stopVoteLocked(ctx)
	b.header.IsRunning = false
	b.header.RunningSince = nil
	b.endedAt = b.deps.Clock.Now()
	if b.state == InGame {
		b.state = PostGameDiscussion
	}

	debrief := b.debriefLocked(ctx, result)
	b.debriefs = append(b.debriefs, debrief)
	b.broadcastMembersLocked(ctx, debrief)
	b.deps.Users.BroadcastAll(ctx, BattleUpdate{Header: FullHeader(b.header)})

	ring := fmt.Sprintf("** %s 's %s just ended, join me! **", b.header.Founder, b.header.Title)
	for _, name := range b.notify {
		say := Say{
			User:    b.deps.Settings.BotName,
			Text:    ring,
			Place:   PlaceUser,
			Target:  name,
			IsEmote: true,
			Ring:    true,
		}
		if err := b.deps.Users.Send(ctx, name, say); err != nil {
			b.logf("battle %d: notify %s: %v", b.id, name, err)
		}
	}
	b.notify = nil

	b.inviteMatchMakerLocked(ctx)

	if b.state == PostGameDiscussion {
		if b.header.IsAutohost {
			b.runDirectLocked(ctx, "map", "")
		}
		b.discussion.Arm(DiscussionTime, b.discussionEnded)
	}
	b.checkCloseLocked(ctx)
}

// debriefLocked summarizes a finished game and stores it when a result
// store is configured.
func (b *Battle) debriefLocked(ctx context.Context, result dedicated.Context) Debriefing {
	setup := result.Setup
	if setup.BattleID == 0 && b.startSetup != nil {
		setup = *b.startSetup
	}
	ended := result.EndedAt
	if ended.IsZero() {
		ended = b.endedAt
	}
	d := Debriefing{
		BattleID:     b.id,
		Title:        setup.Title,
		Map:          setup.Map,
		Game:         setup.Game,
		Engine:       setup.Engine,
		Mode:         setup.Mode.String(),
		StartedAt:    result.StartedAt,
		EndedAt:      ended,
		Crashed:      result.Crashed,
		WinnerAllies: append([]int(nil), result.WinnerAllies...),
	}
	switch {
	case result.Crashed:
		d.Message = "The game ended abnormally"
	case result.GameStartedAt == nil:
		d.Message = "The game did not start"
	case len(result.WinnerAllies) == 0:
		d.Message = "The game ended without a winner"
	}

	seen := make(map[string]bool)
	add := func(name string, ally int, spectator bool) {
		if seen[name] {
			return
		}
		seen[name] = true
		d.Players = append(d.Players, DebriefPlayer{
			Name:        name,
			AllyNumber:  ally,
			IsSpectator: spectator,
			Won:         !spectator && slices.Contains(result.WinnerAllies, ally),
		})
	}
	for _, p := range setup.Players {
		spectator := p.IsSpectator
		if len(result.ActualPlayers) > 0 && !result.IsPlayer(p.Name) {
			spectator = true
		}
		add(p.Name, p.AllyNumber, spectator)
	}
	for _, p := range result.ActualPlayers {
		add(p.Name, p.AllyNumber, p.IsSpectator)
	}

	if b.deps.Results != nil {
		rec := storage.BattleResult{
			BattleID:     b.id,
			BattleGUID:   b.guid,
			Title:        d.Title,
			Engine:       d.Engine,
			Game:         d.Game,
			Map:          d.Map,
			Mode:         d.Mode,
			StartedAt:    d.StartedAt,
			EndedAt:      d.EndedAt,
			Crashed:      d.Crashed,
			WinnerAllies: d.WinnerAllies,
		}
		for _, p := range d.Players {
			rec.Players = append(rec.Players, storage.ResultPlayer{
				Name:        p.Name,
				AllyNumber:  p.AllyNumber,
				IsSpectator: p.IsSpectator,
				Won:         p.Won,
			})
		}
		id, err := b.deps.Results.SaveResult(ctx, rec)
		if err != nil {
			b.logf("battle %d: save result: %v", b.id, err)
		} else {
			d.ResultID = id
		}
	}
	return d
}

// inviteMatchMakerLocked puts the remaining members into the team queues
// when enough of them could play.
func (b *Battle) inviteMatchMakerLocked(ctx context.Context) {
	if b.deps.MatchMaker == nil || len(b.members) == 0 {
		return
	}
	var playing, available []domain.User
	for _, name := range b.memberNamesLocked() {
		m := b.members[name]
		user, ok := b.deps.Users.Lookup(name)
		if !ok || user.IsAway {
			continue
		}
		available = append(available, user)
		if !m.IsSpectator {
			playing = append(playing, user)
		}
	}
	if len(b.deps.MatchMaker.EligibleQuickJoinPlayers(playing)) < b.inviteMM {
		return
	}
	if err := b.deps.MatchMaker.MassJoin(ctx, available, b.deps.MatchMaker.TeamQueues()); err != nil {
		b.logf("battle %d: invite to matchmaker: %v", b.id, err)
	}
}

// discussionEnded reopens the battle. Autohosts vote on the next map a
// second later.
func (b *Battle) discussionEnded(tok schedule.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.discussion.Valid(tok) {
		return
	}
	b.discussion.Cancel()
	if b.state != PostGameDiscussion {
		return
	}
	b.state = Open
	if b.header.IsAutohost {
		b.discussion.Arm(mapVoteDelay, b.autohostMapVote)
	}
}

func (b *Battle) autohostMapVote(tok schedule.Token) {
	ctx := context.Background()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.discussion.Valid(tok) {
		return
	}
	b.discussion.Cancel()
	if !b.header.IsAutohost {
		return
	}
	b.startScheduledVoteLocked(ctx, "map", func(ctx context.Context, _ poll.Outcome) {
		b.startScheduledVoteLocked(ctx, "start", nil)
	})
}

// startScheduledVoteLocked opens a server-invoked vote with the short map
// vote timeout. Nobody votes yes automatically.
func (b *Battle) startScheduledVoteLocked(ctx context.Context, shortcut string, onEnd func(context.Context, poll.Outcome)) {
	if b.state != Open || len(b.votersLocked()) == 0 {
		return
	}
	cmd, ok := b.deps.Commands.Lookup(shortcut)
	if !ok {
		return
	}
	inv := command.Invoker{}
	prepared, err := cmd.Arm(ctx, b.viewLocked(ctx), inv, "")
	if err != nil {
		b.logf("battle %d: scheduled %s vote: %v", b.id, shortcut, err)
		return
	}
	err = b.startVoteLocked(ctx, voteRequest{
		cmd:      cmd,
		invoker:  inv,
		prepared: prepared,
		timeout:  poll.MapVoteTimeout,
		onEnd:    onEnd,
	})
	if err != nil {
		b.logf("battle %d: scheduled %s vote: %v", b.id, shortcut, err)
	}
}
