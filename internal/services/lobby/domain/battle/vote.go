package battle

import (
	"context"
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/command"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/poll"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule"
)

type voteRequest struct {
	cmd      command.Command
	invoker  command.Invoker
	prepared command.Prepared
	timeout  time.Duration
	// onEnd runs after the outcome is published, unless the poll was
	// cancelled.
	onEnd func(ctx context.Context, outcome poll.Outcome)
}

// StartVote puts a command to the vote without a permission check. It
// fails, naming the poll in progress, when another poll is active.
func (b *Battle) StartVote(ctx context.Context, inv command.Invoker, shortcut, args string, timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.mutableLocked(); err != nil {
		return err
	}
	cmd, ok := b.deps.Commands.Lookup(shortcut)
	if !ok {
		return ErrCommandDenied
	}
	prepared, err := cmd.Arm(ctx, b.viewLocked(ctx), inv, args)
	if err != nil {
		return err
	}
	return b.startVoteLocked(ctx, voteRequest{cmd: cmd, invoker: inv, prepared: prepared, timeout: timeout})
}

func (b *Battle) startVoteLocked(ctx context.Context, req voteRequest) error {
	if b.poll != nil {
		b.respondLocked(ctx, req.invoker, "Please wait, another poll already in progress: "+b.poll.Question())
		return ErrPollActive
	}
	if req.timeout <= 0 {
		req.timeout = poll.DefaultTimeout
	}
	p, err := poll.New(poll.Config{
		Question: req.prepared.Question,
		Command:  req.cmd.Shortcut(),
		Args:     req.prepared.Args,
		Invoker:  req.invoker.Name,
		Voters:   b.votersLocked(),
		Timeout:  req.timeout,
		Started:  b.deps.Clock.Now(),
	})
	if err != nil {
		return err
	}
	b.poll = p
	b.pollCmd = req.cmd
	b.pollInvoker = req.invoker
	b.pollOnEnd = req.onEnd
	b.sayBattleLocked(ctx, p.Status(), "")
	if p.State().Ended() {
		b.finishPollLocked(ctx)
		return nil
	}
	b.pollTimer.Arm(req.timeout, b.pollExpired)
	return nil
}

// votersLocked is the electorate: playing members, plus everyone actually
// playing in a running game.
func (b *Battle) votersLocked() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range b.memberNamesLocked() {
		if !b.members[name].IsSpectator {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	if b.processRunningLocked() {
		for _, p := range b.proc.Context().ActualPlayers {
			if _, dup := seen[p.Name]; dup || p.IsSpectator {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
	}
	return out
}

func (b *Battle) pollExpired(tok schedule.Token) {
	ctx := context.Background()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pollTimer.Valid(tok) || b.poll == nil {
		return
	}
	b.poll.Expire()
	b.finishPollLocked(ctx)
}

// RegisterVote records a vote on the active poll.
func (b *Battle) RegisterVote(ctx context.Context, voter string, inFavor bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registerVoteLocked(ctx, voter, inFavor)
}

func (b *Battle) registerVoteLocked(ctx context.Context, voter string, inFavor bool) error {
	inv := command.Invoker{Name: voter}
	if b.poll == nil {
		b.respondLocked(ctx, inv, ErrPollNotActive.Message)
		return ErrPollNotActive
	}
	state, err := b.poll.Vote(voter, inFavor)
	if err != nil {
		b.respondLocked(ctx, inv, poll.ErrNotEligible.Message)
		return err
	}
	if state.Ended() {
		b.finishPollLocked(ctx)
		return nil
	}
	b.sayBattleLocked(ctx, b.poll.Status(), "")
	return nil
}

// finishPollLocked retires an ended poll, publishes its outcome and runs
// the command when it passed.
func (b *Battle) finishPollLocked(ctx context.Context) {
	p, cmd, inv, onEnd := b.poll, b.pollCmd, b.pollInvoker, b.pollOnEnd
	b.pollTimer.Cancel()
	b.clearPollLocked()

	outcome := p.Outcome()
	b.sayBattleLocked(ctx, outcome.String(), "")
	if outcome.Success() && cmd != nil {
		err := b.guard("poll "+outcome.Command, func() error {
			return cmd.Run(ctx, b.viewLocked(ctx), inv, outcome.Args)
		})
		if err != nil {
			b.logf("battle %d: run voted %s: %v", b.id, outcome.Command, err)
		}
	}
	if onEnd != nil && outcome.State != poll.Cancelled {
		onEnd(ctx, outcome)
	}
}

func (b *Battle) clearPollLocked() {
	b.poll = nil
	b.pollCmd = nil
	b.pollInvoker = command.Invoker{}
	b.pollOnEnd = nil
}

// StopVote cancels the active poll. It is safe to call with no poll.
func (b *Battle) StopVote(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopVoteLocked(ctx)
}

func (b *Battle) stopVoteLocked(ctx context.Context) {
	b.pollTimer.Cancel()
	if b.poll == nil {
		return
	}
	b.poll.Cancel()
	b.finishPollLocked(ctx)
}
