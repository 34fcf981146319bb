package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
)

// Refresh polls the social snapshot once and merges it into local state:
// new friends and groups become known rooms and are joined, unread counts
// are max-merged and activity timestamps are merged.
func (e *Engine) Refresh(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	snap, err := e.history.SocialSnapshot(fetchCtx)
	if err != nil {
		return fmt.Errorf("refresh social snapshot: %w", err)
	}

	e.mu.Lock()
	self := e.selfLocked()
	var added []chat.RoomID
	if self != "" {
		for _, friend := range snap.Friends {
			room := chat.DirectRoom(self, friend)
			if _, ok := e.view.rooms[room.ID]; !ok {
				added = append(added, room.ID)
			}
			e.view.rooms[room.ID] = room
		}
	}
	for _, group := range snap.Groups {
		if group.ID == "" {
			continue
		}
		group.Kind = chat.RoomGroup
		if _, ok := e.view.rooms[group.ID]; !ok {
			added = append(added, group.ID)
		}
		e.view.rooms[group.ID] = group
	}
	e.unread.Reconcile(ctx, snap.UnreadBaseline, e.view.active)
	e.activity.Merge(snap.LastActivity)
	e.mu.Unlock()

	if e.conn.State() == StateConnected {
		for _, room := range added {
			e.registry.Join(ctx, room, self)
		}
	}
	e.notify()
	return nil
}

// RunRefresh calls Refresh immediately and then every interval until ctx
// is done. Failures are logged and the next tick tries again.
func (e *Engine) RunRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Social refresh failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
