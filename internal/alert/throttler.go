// Package alert turns newly appeared objects into spoken announcements.
//
// A Throttler enforces a single global cooldown between alerts and an
// Announcer synthesizes and plays each permitted alert in the background.
package alert

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between two spoken alerts.
const DefaultCooldown = time.Second

// Throttler rate-limits alerts globally. It is not per object: when several
// objects appear within one cooldown window only the first is announced.
type Throttler struct {
	cooldown time.Duration

	mu        sync.Mutex
	lastAlert time.Time
	alerted   bool
}

// NewThrottler creates a Throttler. A non-positive cooldown uses DefaultCooldown.
func NewThrottler(cooldown time.Duration) *Throttler {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Throttler{cooldown: cooldown}
}

// TryAlert reports whether an alert may be sent at now. When it returns true
// the last alert time is set to now before returning.
func (t *Throttler) TryAlert(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.alerted && now.Sub(t.lastAlert) < t.cooldown {
		return false
	}
	t.lastAlert = now
	t.alerted = true
	return true
}

// LastAlert returns the time of the last permitted alert and whether there was one.
func (t *Throttler) LastAlert() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAlert, t.alerted
}

// Cooldown returns the configured cooldown.
func (t *Throttler) Cooldown() time.Duration {
	return t.cooldown
}
