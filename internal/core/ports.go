// Package core keeps a client's view of its conversations in sync with a
// live relay connection: connection lifecycle, idempotent room subscription,
// unread and activity bookkeeping, optimistic sends and room switching.
package core

import (
	"context"

	"github.com/omochice/chat-sync/internal/chat"
)

// Dialer opens the transport connection.
type Dialer interface {
	Dial(ctx context.Context) (chat.Conn, error)
}

// HistoryClient is the persistence collaborator holding durable history
// and server-side read state for the session user.
type HistoryClient interface {
	// History returns the room transcript, oldest first.
	History(ctx context.Context, room chat.RoomID) ([]chat.Message, error)
	// MarkRead clears the server-side unread baseline for the room.
	MarkRead(ctx context.Context, room chat.RoomID) error
	// SocialSnapshot returns membership and read state for the session user.
	SocialSnapshot(ctx context.Context) (chat.SocialSnapshot, error)
}

// UnreadStore persists the unread map of a user across restarts.
type UnreadStore interface {
	LoadUnread(ctx context.Context, userID string) (map[chat.RoomID]int, error)
	SaveUnread(ctx context.Context, userID string, counts map[chat.RoomID]int) error
}
