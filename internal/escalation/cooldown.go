package escalation

import (
	"sync"
	"time"
)

// fireRecord is the rolling counter/timestamp kept per (session, rule) pair.
type fireRecord struct {
	lastFired time.Time
	count     int
}

// cooldownTracker enforces per-(session,rule) cooldowns and per-session fire
// caps. TryFire is a single atomic check-and-increment under one lock so
// concurrent evaluation bursts cannot double-fire a rule.
type cooldownTracker struct {
	mu    sync.Mutex
	fires map[string]*fireRecord
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{fires: make(map[string]*fireRecord)}
}

// TryFire returns true and records the fire if the (session, rule) pair is
// outside its cooldown window and under its per-session cap. maxPerSession
// and cooldown of zero mean unlimited/no cooldown.
func (t *cooldownTracker) TryFire(sessionID, ruleID string, cooldown time.Duration, maxPerSession int, now time.Time) bool {
	key := sessionID + "\x00" + ruleID

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.fires[key]
	if !ok {
		rec = &fireRecord{}
		t.fires[key] = rec
	}

	if maxPerSession > 0 && rec.count >= maxPerSession {
		return false
	}
	if cooldown > 0 && !rec.lastFired.IsZero() && now.Sub(rec.lastFired) < cooldown {
		return false
	}

	rec.count++
	rec.lastFired = now
	return true
}

// Forget drops all counters for a session once it reaches a terminal state.
func (t *cooldownTracker) Forget(sessionID string) {
	prefix := sessionID + "\x00"
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.fires {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(t.fires, key)
		}
	}
}
