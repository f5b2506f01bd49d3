package room

import (
	"sync"

	"github.com/google/uuid"
)

// Preferences stores per-device join preferences. AutoJoin is the global
// switch; the sticky per-event flag remembers the viewer's last explicit
// choice for that event. Auto-join on room open requires both.
type Preferences interface {
	AutoJoin() bool
	StickyJoin(eventID uuid.UUID) bool
	SetStickyJoin(eventID uuid.UUID, sticky bool)
}

// MemoryPreferences is an in-process Preferences implementation, scoped
// to one connection's lifetime.
type MemoryPreferences struct {
	mu       sync.RWMutex
	autoJoin bool
	sticky   map[uuid.UUID]bool
}

func NewMemoryPreferences(autoJoin bool) *MemoryPreferences {
	return &MemoryPreferences{
		autoJoin: autoJoin,
		sticky:   make(map[uuid.UUID]bool),
	}
}

func (p *MemoryPreferences) AutoJoin() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoJoin
}

func (p *MemoryPreferences) StickyJoin(eventID uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sticky[eventID]
}

func (p *MemoryPreferences) SetStickyJoin(eventID uuid.UUID, sticky bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sticky[eventID] = sticky
}
