// Package relay is a reference chat server. It fans out room messages to
// subscribed connections over WebSocket and raw TCP, keeps an in-memory
// message log and serves the history REST API.
package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
)

const (
	outgoingBuffer = 64
	writeTimeout   = 10 * time.Second
)

type client struct {
	conn     chat.Conn
	userID   string
	outgoing chan []byte
}

// Hub routes events between connections.
type Hub struct {
	dir  *Directory
	log  *MessageLog
	now  func() time.Time
	mu   sync.RWMutex
	subs map[chat.RoomID]map[*client]struct{}

	clients map[*client]struct{}
	wg      sync.WaitGroup
}

// NewHub creates a hub over dir. A nil dir starts empty.
func NewHub(dir *Directory, now func() time.Time) *Hub {
	if dir == nil {
		dir = NewDirectory()
	}
	if now == nil {
		now = time.Now
	}
	return &Hub{
		dir:     dir,
		log:     NewMessageLog(),
		now:     now,
		subs:    make(map[chat.RoomID]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
}

// Directory returns the user and group directory.
func (h *Hub) Directory() *Directory { return h.dir }

// Messages returns the message log.
func (h *Hub) Messages() *MessageLog { return h.log }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribed reports whether a connection of userID is subscribed to room.
func (h *Hub) Subscribed(room chat.RoomID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subs[room] {
		if c.userID == userID {
			return true
		}
	}
	return false
}

// Serve handles conn until it is closed. It blocks.
func (h *Hub) Serve(ctx context.Context, conn chat.Conn) {
	h.wg.Add(1)
	defer h.wg.Done()

	c := &client{conn: conn, outgoing: make(chan []byte, outgoingBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range c.outgoing {
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, data)
			cancel()
			if err != nil {
				log.Printf("Failed to send to %s: %v", conn.RemoteAddr(), err)
				conn.Close()
				return
			}
		}
	}()

	defer func() {
		h.remove(c)
		<-writerDone
		conn.Close()
	}()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("Error reading from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		var ev protocol.Event
		if err := ev.Decode(data); err != nil {
			log.Printf("Failed to decode event: %v", err)
			continue
		}

		switch ev.Type {
		case protocol.EventSubscribe:
			h.subscribe(c, ev)
		case protocol.EventSend:
			h.publish(c, ev)
		default:
			log.Printf("Ignoring %s from %s", ev.Type, conn.RemoteAddr())
		}
	}
}

// Close closes every client connection and waits for Serve to return.
func (h *Hub) Close() {
	h.mu.RLock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.mu.RUnlock()
	h.wg.Wait()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for room, members := range h.subs {
		delete(members, c)
		if len(members) == 0 {
			delete(h.subs, room)
		}
	}
	close(c.outgoing)
}

func (h *Hub) subscribe(c *client, ev protocol.Event) {
	room := chat.RoomID(ev.Room)
	if room == "" || ev.SenderID == "" {
		return
	}
	if g, ok := h.dir.Group(ev.Room); ok && !g.Has(ev.SenderID) {
		log.Printf("User %s is not a member of %s", ev.SenderID, room)
		return
	}
	h.dir.Touch(User{ID: ev.SenderID})

	h.mu.Lock()
	defer h.mu.Unlock()
	c.userID = ev.SenderID
	members, ok := h.subs[room]
	if !ok {
		members = make(map[*client]struct{})
		h.subs[room] = members
	}
	members[c] = struct{}{}
	log.Printf("User %s subscribed to %s", ev.SenderID, room)
}

// publish stores a SEND and broadcasts it as a MESSAGE to the room, the
// sender included. Direct messages also reach the peer's connections that
// have not subscribed, without a room so the peer derives it.
func (h *Hub) publish(c *client, ev protocol.Event) {
	room := chat.RoomID(ev.Room)
	if room == "" || ev.SenderID == "" || ev.Content == "" {
		log.Printf("Dropping incomplete SEND from %s", c.conn.RemoteAddr())
		return
	}
	if g, ok := h.dir.Group(ev.Room); ok && !g.Has(ev.SenderID) {
		log.Printf("User %s cannot post to %s", ev.SenderID, room)
		return
	}
	h.dir.Touch(User{ID: ev.SenderID, Name: ev.SenderName, Avatar: ev.SenderAvatar})

	id := ev.ClientID
	if id == "" {
		id = uuid.NewString()
	}
	msg := chat.Message{
		ID:   id,
		Room: room,
		Author: chat.Author{
			ID:        ev.SenderID,
			Name:      ev.SenderName,
			AvatarRef: ev.SenderAvatar,
		},
		Content:   ev.Content,
		CreatedAt: h.now().UTC(),
	}
	h.log.Append(msg)

	out := protocol.Event{
		Type:         protocol.EventMessage,
		Room:         string(room),
		SenderID:     msg.Author.ID,
		SenderName:   msg.Author.Name,
		SenderAvatar: msg.Author.AvatarRef,
		Content:      msg.Content,
		CreatedAt:    msg.CreatedAt,
		ClientID:     ev.ClientID,
	}
	data, err := out.Encode()
	if err != nil {
		log.Printf("Failed to encode message: %v", err)
		return
	}

	var peer string
	if ev.RoomKind == protocol.RoomKindDirect {
		peer, _ = h.dir.DirectPeer(room, ev.SenderID)
	}
	var roomless []byte
	if peer != "" {
		out.Room = ""
		if roomless, err = out.Encode(); err != nil {
			log.Printf("Failed to encode message: %v", err)
			return
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.subs[room]
	if _, ok := members[c]; !ok {
		h.enqueue(c, data)
	}
	for m := range members {
		h.enqueue(m, data)
	}
	if peer == "" {
		return
	}
	for other := range h.clients {
		if _, ok := members[other]; ok || other.userID != peer {
			continue
		}
		h.enqueue(other, roomless)
	}
}

// pushTo sends ev to every connection of the given users.
func (h *Hub) pushTo(users []string, ev protocol.Event) {
	data, err := ev.Encode()
	if err != nil {
		log.Printf("Failed to encode %s: %v", ev.Type, err)
		return
	}
	want := make(map[string]struct{}, len(users))
	for _, u := range users {
		want[u] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if _, ok := want[c.userID]; ok {
			h.enqueue(c, data)
		}
	}
}

// dropRoom unsubscribes everyone from room.
func (h *Hub) dropRoom(room chat.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, room)
}

// enqueue must be called with mu held.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.outgoing <- data:
	default:
		log.Printf("Client %s channel full, skipping", c.conn.RemoteAddr())
	}
}
