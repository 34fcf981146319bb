package core

import (
	"context"
	"log"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
)

// ingest routes an inbound message to the active transcript or the unread
// index, and records activity in both cases.
func (e *Engine) ingest(ev protocol.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	self := e.selfLocked()
	room := resolveRoom(ev, self)
	if room == "" {
		log.Printf("Dropping message without room or sender")
		return
	}
	receivedAt := e.now()
	ctx := context.Background()

	if ev.ClientID != "" {
		if _, ok := e.view.pending[ev.ClientID]; ok {
			delete(e.view.pending, ev.ClientID)
			_, sending := e.view.sending[ev.ClientID]
			if !e.confirmLocked(ev) && sending {
				e.view.echoed[ev.ClientID] = ev.CreatedAt
			}
			e.activity.Touch(room, receivedAt)
			return
		}
	}

	if _, ok := e.view.rooms[room]; !ok {
		e.view.rooms[room] = inferRoom(room, ev, self)
	}

	if room == e.view.active {
		e.view.transcript = append(e.view.transcript, messageFromEvent(room, ev, receivedAt))
	} else if ev.SenderID != self {
		e.unread.Increment(ctx, room)
	}
	e.activity.Touch(room, receivedAt)
}

// confirmLocked marks the optimistic copy of an echoed send as delivered.
// It reports false when the copy is not in the transcript.
func (e *Engine) confirmLocked(ev protocol.Event) bool {
	for i := range e.view.transcript {
		msg := &e.view.transcript[i]
		if msg.ID != ev.ClientID {
			continue
		}
		msg.Pending = false
		if !ev.CreatedAt.IsZero() {
			msg.CreatedAt = ev.CreatedAt
		}
		return true
	}
	return false
}

// resolveRoom returns the explicit room of ev, or the direct room with its
// sender when the relay left the room out.
func resolveRoom(ev protocol.Event, self string) chat.RoomID {
	if ev.Room != "" {
		return chat.RoomID(ev.Room)
	}
	if ev.SenderID == "" || ev.SenderID == self {
		return ""
	}
	return chat.DirectRoomID(self, ev.SenderID)
}

func inferRoom(id chat.RoomID, ev protocol.Event, self string) chat.Room {
	switch {
	case id == chat.GlobalRoomID:
		return chat.GlobalRoom()
	case ev.SenderID != "" && id == chat.DirectRoomID(self, ev.SenderID):
		return chat.DirectRoom(self, chat.Friend{ID: ev.SenderID, Name: ev.SenderName, AvatarRef: ev.SenderAvatar})
	default:
		return chat.Room{ID: id, Kind: chat.RoomGroup, Name: string(id)}
	}
}

func messageFromEvent(room chat.RoomID, ev protocol.Event, receivedAt time.Time) chat.Message {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = receivedAt
	}
	return chat.Message{
		ID:   ev.ClientID,
		Room: room,
		Author: chat.Author{
			ID:        ev.SenderID,
			Name:      ev.SenderName,
			AvatarRef: ev.SenderAvatar,
		},
		Content:   ev.Content,
		CreatedAt: createdAt,
	}
}
