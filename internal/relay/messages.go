package relay

import (
	"slices"
	"sync"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
)

// MessageLog keeps every room's messages in arrival order together with
// per-user read markers.
type MessageLog struct {
	mu    sync.RWMutex
	rooms map[chat.RoomID][]chat.Message
	read  map[string]map[chat.RoomID]int
}

func NewMessageLog() *MessageLog {
	return &MessageLog{
		rooms: make(map[chat.RoomID][]chat.Message),
		read:  make(map[string]map[chat.RoomID]int),
	}
}

func (l *MessageLog) Append(msg chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms[msg.Room] = append(l.rooms[msg.Room], msg)
}

// History returns a copy of the messages of room, oldest first.
func (l *MessageLog) History(room chat.RoomID) []chat.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.rooms[room])
}

// MarkRead moves the read marker of userID in room past the last message.
func (l *MessageLog) MarkRead(userID string, room chat.RoomID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	marks, ok := l.read[userID]
	if !ok {
		marks = make(map[chat.RoomID]int)
		l.read[userID] = marks
	}
	marks[room] = len(l.rooms[room])
}

// Unread counts the messages after the read marker of userID that someone
// else wrote.
func (l *MessageLog) Unread(userID string, room chat.RoomID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.rooms[room]
	mark := min(l.read[userID][room], len(msgs))
	n := 0
	for _, msg := range msgs[mark:] {
		if msg.Author.ID != userID {
			n++
		}
	}
	return n
}

func (l *MessageLog) LastActivity(room chat.RoomID) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := l.rooms[room]
	if len(msgs) == 0 {
		return time.Time{}, false
	}
	return msgs[len(msgs)-1].CreatedAt, true
}

// Drop forgets room and every read marker in it.
func (l *MessageLog) Drop(room chat.RoomID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rooms, room)
	for _, marks := range l.read {
		delete(marks, room)
	}
}
