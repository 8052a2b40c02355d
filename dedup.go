package twitchlinkr

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MessageDeduper remembers notification message ids for a fixed window.
// EventSub delivers at least once, so the same message id can arrive twice,
// also across a reconnect. It is safe for concurrent use.
type MessageDeduper struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	window    time.Duration
	seen      map[string]time.Time
	lastSweep time.Time
}

// NewMessageDeduper creates a deduper that forgets ids after window.
func NewMessageDeduper(window time.Duration, clock clockwork.Clock) *MessageDeduper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MessageDeduper{
		clock:     clock,
		window:    window,
		seen:      make(map[string]time.Time),
		lastSweep: clock.Now(),
	}
}

// Seen records id and reports whether it was already recorded inside the
// window. Empty ids are never treated as duplicates.
func (d *MessageDeduper) Seen(id string) bool {
	if d == nil || id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if now.Sub(d.lastSweep) > d.window {
		d.sweep(now)
	}

	if at, ok := d.seen[id]; ok && now.Sub(at) <= d.window {
		return true
	}
	d.seen[id] = now
	return false
}

// Len returns the number of remembered ids, including expired ones not yet swept.
func (d *MessageDeduper) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *MessageDeduper) sweep(now time.Time) {
	for id, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, id)
		}
	}
	d.lastSweep = now
}
