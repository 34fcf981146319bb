package core

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/omochice/chat-sync/internal/chat"
)

// SwitchTo makes room the active room: its unread count is cleared locally
// and on the server, and the transcript is replaced by the fetched history.
// The mark-read call runs alongside the fetch; SwitchTo returns once both
// are done.
//
// If another switch happens before the history arrives, the result is
// dropped and SwitchTo returns nil. A failed fetch leaves the transcript
// empty and returns an error wrapping chat.ErrHistoryFetchFailed; switching
// again retries.
func (e *Engine) SwitchTo(ctx context.Context, room chat.RoomID) error {
	if room == "" {
		return chat.ErrNoActiveRoom
	}

	e.mu.Lock()
	e.view.active = room
	e.view.switchSeq++
	seq := e.view.switchSeq
	e.view.transcript = nil
	e.unread.Clear(ctx, room)
	e.mu.Unlock()
	e.notify()

	marked := make(chan struct{})
	go func() {
		defer close(marked)
		markCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()
		if err := e.history.MarkRead(markCtx, room); err != nil {
			log.Printf("Failed to mark room %s read: %v", room, err)
		}
	}()
	defer func() { <-marked }()

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	history, err := e.history.History(fetchCtx, room)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.view.switchSeq != seq {
		log.Printf("Discarding history of %s: %v", room, chat.ErrStaleRoomSwitch)
		return nil
	}
	defer e.notify()

	if err != nil {
		e.view.transcript = nil
		return fmt.Errorf("%w: room %s: %w", chat.ErrHistoryFetchFailed, room, err)
	}
	e.view.transcript = mergeHistory(history, e.view.transcript)
	return nil
}

// mergeHistory orders history oldest first and keeps the live messages that
// arrived while it was loading, unless history already holds them.
func mergeHistory(history, live []chat.Message) []chat.Message {
	merged := slices.Clone(history)
	slices.SortStableFunc(merged, func(a, b chat.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	seen := make(map[string]struct{}, len(merged))
	for _, msg := range merged {
		if msg.ID != "" {
			seen[msg.ID] = struct{}{}
		}
	}
	for _, msg := range live {
		if _, ok := seen[msg.ID]; ok && msg.ID != "" {
			continue
		}
		merged = append(merged, msg)
	}
	return merged
}
