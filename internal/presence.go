package internal

import (
	"sync"
	"time"
)

type presenceEntry struct {
	lastActive time.Time
	idle       bool
}

// PresenceTracker keeps last-active timestamps and idle flags per identity.
// Explicit idle/online signals flip the flag immediately; the periodic sweep
// derives idleness from inactivity.
type PresenceTracker struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{entries: make(map[string]*presenceEntry)}
}

// Touch records activity for identity. Only the explicit online signal clears
// an idle flag; plain activity just refreshes the timestamp.
func (p *PresenceTracker) Touch(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[identity]; ok {
		e.lastActive = time.Now()
		return
	}
	p.entries[identity] = &presenceEntry{lastActive: time.Now()}
}

// MarkIdle flags identity as idle.
func (p *PresenceTracker) MarkIdle(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[identity]; ok {
		e.idle = true
		return
	}
	p.entries[identity] = &presenceEntry{lastActive: time.Now(), idle: true}
}

// MarkActive clears the idle flag and reports whether identity was idle, so
// the caller broadcasts online only on an idle-to-active transition.
func (p *PresenceTracker) MarkActive(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[identity]
	if !ok {
		p.entries[identity] = &presenceEntry{lastActive: time.Now()}
		return false
	}
	wasIdle := e.idle
	e.idle = false
	e.lastActive = time.Now()
	return wasIdle
}

// Idle reports the current idle flag for identity.
func (p *PresenceTracker) Idle(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[identity]; ok {
		return e.idle
	}
	return false
}

// Remove forgets identity entirely (disconnect).
func (p *PresenceTracker) Remove(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, identity)
}

// Sweep marks every identity whose last activity predates threshold as idle
// and returns the identities that transitioned on this pass. Connections stay
// registered; only presence status changes.
func (p *PresenceTracker) Sweep(threshold time.Duration) []string {
	cutoff := time.Now().Add(-threshold)
	p.mu.Lock()
	defer p.mu.Unlock()
	var newlyIdle []string
	for identity, e := range p.entries {
		if !e.idle && e.lastActive.Before(cutoff) {
			e.idle = true
			newlyIdle = append(newlyIdle, identity)
		}
	}
	return newlyIdle
}
