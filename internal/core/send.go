package core

import (
	"context"
	"slices"
	"strings"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
)

// Send publishes content to room and appends a pending copy to the
// transcript when room is active. An empty room means the active room.
//
// The relay echoes the message back with the same client id; ingestion
// confirms the pending copy instead of appending a second one. The lock is
// not held during the write, so inbound messages keep flowing.
func (e *Engine) Send(ctx context.Context, room chat.RoomID, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, chat.ErrEmptyContent
	}

	e.mu.Lock()
	if e.view.session == nil {
		e.mu.Unlock()
		return chat.Message{}, chat.ErrNoSession
	}
	if room == "" {
		room = e.view.active
	}
	if room == "" {
		e.mu.Unlock()
		return chat.Message{}, chat.ErrNoActiveRoom
	}
	if e.conn.State() != StateConnected {
		e.mu.Unlock()
		return chat.Message{}, chat.ErrNotConnected
	}

	author := e.view.session.Author()
	msg := chat.Message{
		ID:      e.newID(),
		Room:    room,
		Author:  author,
		Content: content,
		Pending: true,
	}
	ev := protocol.Event{
		Type:         protocol.EventSend,
		Room:         string(room),
		SenderID:     author.ID,
		SenderName:   author.Name,
		SenderAvatar: author.AvatarRef,
		Content:      content,
		ClientID:     msg.ID,
		RoomKind:     wireKind(e.view.rooms[room].Kind),
	}
	e.view.pending[msg.ID] = struct{}{}
	e.view.sending[msg.ID] = struct{}{}
	e.mu.Unlock()

	err := e.conn.Send(ctx, ev)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.view.sending, msg.ID)
	echoedAt, echoed := e.view.echoed[msg.ID]
	delete(e.view.echoed, msg.ID)
	if err != nil {
		delete(e.view.pending, msg.ID)
		return chat.Message{}, err
	}

	msg.CreatedAt = e.now()
	if echoed {
		msg.Pending = false
		if !echoedAt.IsZero() {
			msg.CreatedAt = echoedAt
		}
	}
	if room == e.view.active && !hasMessage(e.view.transcript, msg.ID) {
		e.view.transcript = append(e.view.transcript, msg)
	}
	e.activity.Touch(room, msg.CreatedAt)
	e.notify()
	return msg, nil
}

func hasMessage(msgs []chat.Message, id string) bool {
	return slices.ContainsFunc(msgs, func(m chat.Message) bool { return m.ID == id })
}

func wireKind(k chat.RoomKind) int {
	switch k {
	case chat.RoomGroup:
		return protocol.RoomKindGroup
	case chat.RoomDirect:
		return protocol.RoomKindDirect
	default:
		return protocol.RoomKindGlobal
	}
}
