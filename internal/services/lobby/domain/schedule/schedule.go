// Package schedule provides the clock abstraction and the one-shot timer the
// battle uses for poll deadlines and post-game discussion windows.
//
// A Timer is armed only by the transition that needs it and is disarmed on
// every path that retires that transition. Callbacks receive the Token they
// were armed with; owners re-check it with Valid after taking their own lock,
// so a callback that lost the race against Cancel or a re-Arm does nothing.
package schedule

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Clock is the time source for battles.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Stopper
}

// Stopper cancels a pending callback.
type Stopper interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// AfterFunc schedules fn on its own goroutine after d.
func (SystemClock) AfterFunc(d time.Duration, fn func()) Stopper { return time.AfterFunc(d, fn) }

// Token identifies one arming of a Timer.
type Token uint64

// Timer is a cancellable one-shot scheduled callback.
type Timer struct {
	name  string
	clock Clock
	logf  func(string, ...any)

	mu      sync.Mutex
	gen     Token
	armed   bool
	pending Stopper
}

// NewTimer creates a disarmed timer. name only appears in logs.
func NewTimer(name string, clock Clock, logf func(string, ...any)) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Timer{name: name, clock: clock, logf: logf}
}

// Arm cancels any pending callback and schedules fn to run once after d.
func (t *Timer) Arm(d time.Duration, fn func(Token)) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.pending = t.clock.AfterFunc(d, func() { t.fire(gen, fn) })
	return gen
}

// Cancel disarms the timer. It reports whether a callback was pending.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasArmed := t.armed
	t.stopLocked()
	t.gen++
	return wasArmed
}

// Armed reports whether a callback is scheduled and not yet retired.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Valid reports whether tok is the current arming and has not been cancelled.
func (t *Timer) Valid(tok Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && t.gen == tok
}

func (t *Timer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.armed = false
}

func (t *Timer) fire(gen Token, fn func(Token)) {
	t.mu.Lock()
	current := t.armed && t.gen == gen
	t.mu.Unlock()
	if !current {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logf("timer %s: callback panic: %v", t.name, fmt.Sprint(r))
		}
	}()
	fn(gen)
}
