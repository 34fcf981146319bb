package core

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
)

type intentSender interface {
	State() State
	Send(ctx context.Context, ev protocol.Event) error
}

// RoomRegistry tracks the rooms subscribed on the current connection.
// A room is subscribed at most once until the next Reset.
type RoomRegistry struct {
	sender intentSender
	mu     sync.Mutex
	joined map[chat.RoomID]struct{}
}

// NewRoomRegistry creates an empty registry emitting intents through sender.
func NewRoomRegistry(sender intentSender) *RoomRegistry {
	return &RoomRegistry{
		sender: sender,
		joined: make(map[chat.RoomID]struct{}),
	}
}

// Join subscribes to room unless it is empty or already subscribed.
// Without a live connection it logs and returns false; the caller joins
// again once connected. It reports whether a subscribe intent was sent.
func (r *RoomRegistry) Join(ctx context.Context, room chat.RoomID, userID string) bool {
	if room == "" {
		return false
	}

	r.mu.Lock()
	if _, ok := r.joined[room]; ok {
		r.mu.Unlock()
		return false
	}
	if r.sender.State() != StateConnected {
		r.mu.Unlock()
		log.Printf("Cannot join room %s: %v", room, chat.ErrNotConnected)
		return false
	}
	r.joined[room] = struct{}{}
	r.mu.Unlock()

	err := r.sender.Send(ctx, protocol.Event{
		Type:     protocol.EventSubscribe,
		Room:     string(room),
		SenderID: userID,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.joined, room)
		r.mu.Unlock()
		log.Printf("Failed to join room %s: %v", room, err)
		return false
	}
	return true
}

// Joined reports whether room is subscribed on the current connection.
func (r *RoomRegistry) Joined(room chat.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.joined[room]
	return ok
}

// Rooms returns the subscribed rooms in id order.
func (r *RoomRegistry) Rooms() []chat.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]chat.RoomID, 0, len(r.joined))
	for room := range r.joined {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

// Leave forgets room so a later Join subscribes again.
func (r *RoomRegistry) Leave(room chat.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.joined, room)
}

// Reset forgets every subscription. Called whenever the connection is lost.
func (r *RoomRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.joined)
}
