// Package kicklist keeps the per-battle temporary ban list.
package kicklist

import (
	"strings"
	"time"
)

// Window is how long a kicked user stays barred from rejoining.
const Window = 5 * time.Minute

// Entry records one kick.
type Entry struct {
	Name     string
	KickedAt time.Time
}

// List is a TTL list of kicked user names. It is owned by a single battle and
// is not safe for concurrent use.
type List struct {
	now     func() time.Time
	window  time.Duration
	entries []Entry
}

// New creates an empty list using now as its clock.
func New(now func() time.Time) *List {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &List{now: now, window: Window}
}

// Add records a kick of name at the current time.
func (l *List) Add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	l.entries = append(l.entries, Entry{Name: name, KickedAt: l.now()})
}

// IsKicked purges expired entries and reports whether name is still barred.
// An entry expires once it is at least Window old.
func (l *List) IsKicked(name string) bool {
	l.purge()
	for _, e := range l.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Entries returns the live entries, oldest first.
func (l *List) Entries() []Entry {
	l.purge()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *List) purge() {
	cutoff := l.now().Add(-l.window)
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.KickedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}
