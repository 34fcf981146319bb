package core

import (
	"context"
	"fmt"
	"log"
	"maps"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
)

// UnreadIndex counts messages received per room while the room was not
// active. Every mutation is written through to the store.
type UnreadIndex struct {
	store  UnreadStore
	mu     sync.RWMutex
	userID string
	counts map[chat.RoomID]int
}

// NewUnreadIndex creates an empty index. A nil store keeps counts in memory only.
func NewUnreadIndex(store UnreadStore) *UnreadIndex {
	return &UnreadIndex{store: store, counts: make(map[chat.RoomID]int)}
}

// Load replaces the counts with the ones persisted for userID. Subsequent
// writes go to the same user.
func (u *UnreadIndex) Load(ctx context.Context, userID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.userID = userID
	counts := make(map[chat.RoomID]int)
	if u.store != nil {
		stored, err := u.store.LoadUnread(ctx, userID)
		if err != nil {
			u.counts = counts
			return fmt.Errorf("load unread counts for %s: %w", userID, err)
		}
		for room, n := range stored {
			if n > 0 {
				counts[room] = n
			}
		}
	}
	u.counts = counts
	return nil
}

// Get returns the unread count of room.
func (u *UnreadIndex) Get(room chat.RoomID) int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.counts[room]
}

// Snapshot returns a copy of every non-zero count.
func (u *UnreadIndex) Snapshot() map[chat.RoomID]int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return maps.Clone(u.counts)
}

// Increment adds one unread message to room and returns the new count.
func (u *UnreadIndex) Increment(ctx context.Context, room chat.RoomID) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[room]++
	u.persistLocked(ctx)
	return u.counts[room]
}

// Clear drops the count of room.
func (u *UnreadIndex) Clear(ctx context.Context, room chat.RoomID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.counts[room]; !ok {
		return
	}
	delete(u.counts, room)
	u.persistLocked(ctx)
}

// Reconcile merges a server baseline into the local counts keeping the
// maximum of both. The active room is never raised.
func (u *UnreadIndex) Reconcile(ctx context.Context, baseline map[chat.RoomID]int, active chat.RoomID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	changed := false
	for room, remote := range baseline {
		if room == active || remote <= u.counts[room] {
			continue
		}
		u.counts[room] = remote
		changed = true
	}
	if changed {
		u.persistLocked(ctx)
	}
	return changed
}

func (u *UnreadIndex) persistLocked(ctx context.Context) {
	if u.store == nil || u.userID == "" {
		return
	}
	if err := u.store.SaveUnread(ctx, u.userID, maps.Clone(u.counts)); err != nil {
		log.Printf("Failed to persist unread counts for %s: %v", u.userID, err)
	}
}
