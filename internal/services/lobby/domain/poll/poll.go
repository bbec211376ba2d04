// Package poll implements the single in-flight governance vote of a battle.
//
// A Poll is not safe for concurrent use; the owning battle serializes access.
package poll

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
)

const (
	// DefaultTimeout bounds an ordinary command vote.
	DefaultTimeout = 60 * time.Second
	// MapVoteTimeout bounds the scheduled autohost map and start votes.
	MapVoteTimeout = 25 * time.Second
)

var (
	// ErrNotActive is returned when voting on a poll that already ended.
	ErrNotActive = apperrors.New(apperrors.CodePollNotActive, "There is no poll going on, start some first")
	// ErrNotEligible is returned when the voter was not in the electorate.
	ErrNotEligible = apperrors.New(apperrors.CodePollNotEligible, "You are not eligible to vote in this poll")
)

// State is the lifecycle position of a poll.
type State int

const (
	// Active polls accept votes.
	Active State = iota + 1
	Passed
	Failed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Ended reports whether s is terminal.
func (s State) Ended() bool { return s != Active && s != 0 }

// Policy decides a poll from its tally. final is true when the deadline
// passed; a policy must then return a terminal state.
type Policy interface {
	Decide(yes, no, eligible int, final bool) State
}

// Majority passes once more than half of the electorate said yes and fails
// once that can no longer happen. At the deadline the poll passes if yes
// outnumbers no, otherwise it times out.
type Majority struct{}

// Decide implements Policy.
func (Majority) Decide(yes, no, eligible int, final bool) State {
	need := eligible/2 + 1
	switch {
	case yes >= need:
		return Passed
	case eligible-no < need:
		return Failed
	case !final:
		return Active
	case yes > no:
		return Passed
	default:
		return TimedOut
	}
}

// Config describes a poll at creation.
type Config struct {
	Question string
	Command  string
	Args     string
	// Invoker votes yes automatically. Empty for server-scheduled polls.
	Invoker  string
	Voters   []string
	Timeout  time.Duration
	Policy   Policy
	Started  time.Time
}

// Outcome is the published result of an ended poll.
type Outcome struct {
	Question string
	Command  string
	Args     string
	State    State
	Yes      int
	No       int
	Eligible int
}

// Success reports whether the underlying command should run.
func (o Outcome) Success() bool { return o.State == Passed }

func (o Outcome) String() string {
	switch o.State {
	case Passed:
		return fmt.Sprintf("Poll: %s [END:SUCCESS]", o.Question)
	case Cancelled:
		return fmt.Sprintf("Poll: %s [END:CANCELLED]", o.Question)
	default:
		return fmt.Sprintf("Poll: %s [END:FAILED]", o.Question)
	}
}

// Poll is one governance vote.
type Poll struct {
	question string
	command  string
	args     string
	invoker  string
	policy   Policy
	started  time.Time
	deadline time.Time

	electorate map[string]struct{}
	votes      map[string]bool
	state      State
}

// New opens a poll. The invoker's yes vote is counted immediately when the
// invoker is in the electorate, so a lone player passes a vote instantly.
func New(cfg Config) (*Poll, error) {
	question := strings.TrimSpace(cfg.Question)
	if question == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "poll question is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Policy == nil {
		cfg.Policy = Majority{}
	}
	p := &Poll{
		question:   question,
		command:    cfg.Command,
		args:       cfg.Args,
		invoker:    cfg.Invoker,
		policy:     cfg.Policy,
		started:    cfg.Started,
		deadline:   cfg.Started.Add(cfg.Timeout),
		electorate: make(map[string]struct{}, len(cfg.Voters)),
		votes:      make(map[string]bool),
		state:      Active,
	}
	for _, name := range cfg.Voters {
		if name != "" {
			p.electorate[name] = struct{}{}
		}
	}
	if cfg.Invoker != "" {
		if _, ok := p.electorate[cfg.Invoker]; ok {
			p.votes[cfg.Invoker] = true
		}
	}
	p.decide(false)
	return p, nil
}

// Question returns the poll text.
func (p *Poll) Question() string { return p.question }

// Command returns the shortcut of the command being voted on.
func (p *Poll) Command() string { return p.command }

// Args returns the prepared command arguments.
func (p *Poll) Args() string { return p.args }

// Invoker returns who started the poll.
func (p *Poll) Invoker() string { return p.invoker }

// Deadline returns when the poll times out.
func (p *Poll) Deadline() time.Time { return p.deadline }

// State returns the current state.
func (p *Poll) State() State { return p.state }

// CanVote reports whether name belongs to the electorate.
func (p *Poll) CanVote(name string) bool {
	_, ok := p.electorate[name]
	return ok
}

// Voters returns the electorate in name order.
func (p *Poll) Voters() []string {
	out := make([]string, 0, len(p.electorate))
	for name := range p.electorate {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tally returns the yes and no counts.
func (p *Poll) Tally() (yes, no int) {
	for _, v := range p.votes {
		if v {
			yes++
		} else {
			no++
		}
	}
	return yes, no
}

// Vote records or changes a vote and re-evaluates the policy. The returned
// state is terminal when the vote decided the poll.
func (p *Poll) Vote(voter string, inFavor bool) (State, error) {
	if p.state != Active {
		return p.state, ErrNotActive
	}
	if !p.CanVote(voter) {
		return p.state, ErrNotEligible
	}
	p.votes[voter] = inFavor
	return p.decide(false), nil
}

// Expire ends the poll at its deadline with whatever the tally implies.
// Calling it on an ended poll returns the existing state.
func (p *Poll) Expire() State {
	if p.state != Active {
		return p.state
	}
	return p.decide(true)
}

// Cancel ends an active poll without running the command.
func (p *Poll) Cancel() State {
	if p.state == Active {
		p.state = Cancelled
	}
	return p.state
}

// Outcome snapshots the result.
func (p *Poll) Outcome() Outcome {
	yes, no := p.Tally()
	return Outcome{
		Question: p.question,
		Command:  p.command,
		Args:     p.args,
		State:    p.state,
		Yes:      yes,
		No:       no,
		Eligible: len(p.electorate),
	}
}

// Status is the line shown to the battle after each vote.
func (p *Poll) Status() string {
	yes, no := p.Tally()
	need := len(p.electorate)/2 + 1
	return fmt.Sprintf("Poll: %s [!y=%d/%d, !n=%d/%d]", p.question, yes, need, no, need)
}

func (p *Poll) decide(final bool) State {
	yes, no := p.Tally()
	next := p.policy.Decide(yes, no, len(p.electorate), final)
	if final && next == Active {
		next = TimedOut
	}
	p.state = next
	return next
}
