// Package memory keeps unread counts in process memory.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/core"
)

type Store struct {
	mu     sync.RWMutex
	unread map[string]map[chat.RoomID]int
}

var _ core.UnreadStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{unread: make(map[string]map[chat.RoomID]int)}
}

func (s *Store) LoadUnread(ctx context.Context, userID string) (map[chat.RoomID]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := maps.Clone(s.unread[userID])
	if counts == nil {
		counts = make(map[chat.RoomID]int)
	}
	return counts, nil
}

func (s *Store) SaveUnread(ctx context.Context, userID string, counts map[chat.RoomID]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread[userID] = maps.Clone(counts)
	return nil
}
