// Package matchmaker is the in-process matchmaking queue battles hand
// players back to after a game.
package matchmaker

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
)

// Queue is one matchmaking queue.
type Queue struct {
	Name       string
	Mode       domain.Mode
	MaxPlayers int
}

// DefaultQueues are the queues opened when none are configured.
func DefaultQueues() []Queue {
	return []Queue{
		{Name: "Teams", Mode: domain.ModeTeams, MaxPlayers: 8},
		{Name: "1v1", Mode: domain.Mode1v1, MaxPlayers: 2},
		{Name: "Coop", Mode: domain.ModeChickens, MaxPlayers: 4},
	}
}

// Notifier tells a user about a change of their queue status.
type Notifier interface {
	QueueStatusChanged(ctx context.Context, name string, queues []string)
}

// MatchMaker tracks which users wait in which queues.
type MatchMaker struct {
	queues   []Queue
	notifier Notifier
	logf     func(string, ...any)

	mu        sync.Mutex
	queued    map[string][]string
	suspended map[string][]string
}

// Option customises a MatchMaker.
type Option func(*MatchMaker)

// WithNotifier sets who is told about queue status changes.
func WithNotifier(n Notifier) Option {
	return func(m *MatchMaker) { m.notifier = n }
}

// WithLogf overrides the logger.
func WithLogf(logf func(string, ...any)) Option {
	return func(m *MatchMaker) {
		if logf != nil {
			m.logf = logf
		}
	}
}

// New creates a matchmaker over queues.
func New(queues []Queue, opts ...Option) *MatchMaker {
	if len(queues) == 0 {
		queues = DefaultQueues()
	}
	m := &MatchMaker{
		queues:    queues,
		logf:      log.Printf,
		queued:    make(map[string][]string),
		suspended: make(map[string][]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Queues returns every queue.
func (m *MatchMaker) Queues() []Queue {
	return append([]Queue(nil), m.queues...)
}

// TeamQueues returns the queues playing team games.
func (m *MatchMaker) TeamQueues() []Queue {
	var out []Queue
	for _, q := range m.queues {
		if q.Mode == domain.ModeTeams {
			out = append(out, q)
		}
	}
	return out
}

// Join puts name into the named queues, replacing earlier choices.
func (m *MatchMaker) Join(ctx context.Context, name string, queues []string) {
	valid := m.filter(queues)
	m.mu.Lock()
	if len(valid) == 0 {
		delete(m.queued, name)
	} else {
		m.queued[name] = valid
	}
	delete(m.suspended, name)
	m.mu.Unlock()
	m.notify(ctx, name, valid)
}

// RemoveUser takes name out of every queue. With requeue the choices are
// kept and restored by Resume.
func (m *MatchMaker) RemoveUser(ctx context.Context, name string, requeue bool) error {
	m.mu.Lock()
	prev, ok := m.queued[name]
	delete(m.queued, name)
	if ok && requeue {
		m.suspended[name] = prev
	}
	m.mu.Unlock()
	if ok {
		m.notify(ctx, name, nil)
	}
	return nil
}

// Resume restores queues suspended by RemoveUser with requeue.
func (m *MatchMaker) Resume(ctx context.Context, name string) bool {
	m.mu.Lock()
	prev, ok := m.suspended[name]
	if ok {
		delete(m.suspended, name)
		m.queued[name] = prev
	}
	m.mu.Unlock()
	if ok {
		m.notify(ctx, name, prev)
	}
	return ok
}

// MassJoin adds every user to the given queues on top of their current ones.
func (m *MatchMaker) MassJoin(ctx context.Context, users []domain.User, queues []Queue) error {
	names := make([]string, 0, len(queues))
	for _, q := range queues {
		names = append(names, q.Name)
	}
	names = m.filter(names)
	if len(names) == 0 {
		return nil
	}
	for _, u := range users {
		m.mu.Lock()
		merged := mergeNames(m.queued[u.Name], names)
		m.queued[u.Name] = merged
		m.mu.Unlock()
		m.notify(ctx, u.Name, merged)
	}
	return nil
}

// EligibleQuickJoinPlayers filters users who could be matched right now.
func (m *MatchMaker) EligibleQuickJoinPlayers(users []domain.User) []domain.User {
	var out []domain.User
	for _, u := range users {
		if u.IsBot || u.IsAway {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Queued returns the queues name waits in.
func (m *MatchMaker) Queued(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queued[name]...)
}

// QueuedCount returns how many users wait in any queue.
func (m *MatchMaker) QueuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

func (m *MatchMaker) filter(names []string) []string {
	known := make(map[string]bool, len(m.queues))
	for _, q := range m.queues {
		known[q.Name] = true
	}
	var out []string
	for _, name := range names {
		if known[name] {
			out = append(out, name)
		} else {
			m.logf("matchmaker: unknown queue %q", name)
		}
	}
	return mergeNames(nil, out)
}

func mergeNames(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (m *MatchMaker) notify(ctx context.Context, name string, queues []string) {
	if m.notifier == nil {
		return
	}
	m.notifier.QueueStatusChanged(ctx, name, queues)
}
