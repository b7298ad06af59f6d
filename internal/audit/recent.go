package audit

import (
	"sync"
	"time"
)

const DefaultRecentCapacity = 1000

// Recent keeps the last N events in memory for the admin API and health reporting.
type Recent struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewRecent creates a ring buffer holding up to capacity events.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &Recent{events: make([]Event, capacity)}
}

func (r *Recent) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
}

// Events returns up to limit most recent events, oldest first. limit <= 0 returns all.
func (r *Recent) Events(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.ordered()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Since returns events with a timestamp after t.
func (r *Recent) Since(t time.Time) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Event
	for _, e := range r.ordered() {
		if e.Timestamp.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// ErrorsSince returns error and critical events after t.
func (r *Recent) ErrorsSince(t time.Time) []Event {
	var out []Event
	for _, e := range r.Since(t) {
		if e.Level.IsError() {
			out = append(out, e)
		}
	}
	return out
}

// CountsByType aggregates the buffered events by type.
func (r *Recent) CountsByType() map[Type]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Type]int)
	for _, e := range r.ordered() {
		counts[e.Type]++
	}
	return counts
}

// ordered must be called with the lock held.
func (r *Recent) ordered() []Event {
	if !r.full {
		out := make([]Event, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
