// Package scheduletest provides a manually advanced clock for tests.
package scheduletest

import (
	"sort"
	"sync"
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/schedule"
)

// Clock is a fake schedule.Clock. Callbacks run synchronously inside Advance
// on the caller's goroutine, in deadline order.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*entry
}

type entry struct {
	clock   *Clock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers fn to run when the clock passes now+d.
func (c *Clock) AfterFunc(d time.Duration, fn func()) schedule.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	e := &entry{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.pending = append(c.pending, e)
	return e
}

// Stop cancels the entry.
func (e *entry) Stop() bool {
	e.clock.mu.Lock()
	defer e.clock.mu.Unlock()
	if e.stopped {
		return false
	}
	e.stopped = true
	return true
}

// Pending counts callbacks that are scheduled and not stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.pending {
		if !e.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward, firing every due callback. Callbacks
// scheduled by fired callbacks also run if they fall due within d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.pending, func(i, j int) bool {
			if c.pending[i].at.Equal(c.pending[j].at) {
				return c.pending[i].seq < c.pending[j].seq
			}
			return c.pending[i].at.Before(c.pending[j].at)
		})
		var next *entry
		for i, e := range c.pending {
			if e.stopped {
				continue
			}
			if e.at.After(target) {
				break
			}
			next = e
			c.pending = append(c.pending[:i:i], c.pending[i+1:]...)
			break
		}
		if next == nil {
			c.now = target
			c.compactLocked()
			c.mu.Unlock()
			return
		}
		next.stopped = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

func (c *Clock) compactLocked() {
	kept := c.pending[:0]
	for _, e := range c.pending {
		if !e.stopped {
			kept = append(kept, e)
		}
	}
	c.pending = kept
}
