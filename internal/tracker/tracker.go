package tracker

import (
	"sync"
	"time"
)

// DefaultWindow is the debounce interval used when none is configured.
const DefaultWindow = 5 * time.Second

// Tracker remembers when each plate last triggered the gate flow so that
// consecutive frames of the same vehicle do not re-trigger it.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
}

func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:   window,
		lastSeen: make(map[string]time.Time),
	}
}

func (t *Tracker) Window() time.Duration {
	return t.window
}

// Admit reports whether plate may trigger now. The timestamp is only refreshed
// on admission, so the window counts from the last accepted trigger.
func (t *Tracker) Admit(plate string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSeen[plate]
	if ok && now.Sub(last) <= t.window {
		return false
	}
	t.lastSeen[plate] = now
	return true
}

func (t *Tracker) Forget(plate string) {
	t.mu.Lock()
	delete(t.lastSeen, plate)
	t.mu.Unlock()
}

// Prune drops plates whose window has expired and returns how many were removed.
func (t *Tracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for plate, last := range t.lastSeen {
		if now.Sub(last) > t.window {
			delete(t.lastSeen, plate)
			removed++
		}
	}
	return removed
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}
