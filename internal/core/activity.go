package core

import (
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
)

// ActivityIndex records the time of the last known message per room.
// Entries never move backwards.
type ActivityIndex struct {
	mu   sync.RWMutex
	last map[chat.RoomID]time.Time
}

// NewActivityIndex creates an empty index.
func NewActivityIndex() *ActivityIndex {
	return &ActivityIndex{last: make(map[chat.RoomID]time.Time)}
}

// Touch records activity in room at at. Older timestamps are ignored.
func (a *ActivityIndex) Touch(room chat.RoomID, at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.touchLocked(room, at)
}

// Merge applies every entry of remote with the same rule as Touch.
func (a *ActivityIndex) Merge(remote map[chat.RoomID]time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for room, at := range remote {
		a.touchLocked(room, at)
	}
}

func (a *ActivityIndex) touchLocked(room chat.RoomID, at time.Time) bool {
	if at.IsZero() {
		return false
	}
	if prev, ok := a.last[room]; ok && !at.After(prev) {
		return false
	}
	a.last[room] = at
	return true
}

// Get returns the last activity of room.
func (a *ActivityIndex) Get(room chat.RoomID) (time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	at, ok := a.last[room]
	return at, ok
}

// Snapshot returns a copy of every entry.
func (a *ActivityIndex) Snapshot() map[chat.RoomID]time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.last)
}

// Remove drops the entry of room.
func (a *ActivityIndex) Remove(room chat.RoomID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.last, room)
}

// Order sorts rooms by most recent activity. Rooms without activity come
// last; ties are broken by id.
func (a *ActivityIndex) Order(rooms []chat.RoomID) []chat.RoomID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ordered := append([]chat.RoomID(nil), rooms...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, iok := a.last[ordered[i]]
		tj, jok := a.last[ordered[j]]
		if iok != jok {
			return iok
		}
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}
