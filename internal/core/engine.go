package core

import (
	"context"
	"log"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
)

const defaultTimeout = 10 * time.Second

// Options configures an Engine.
type Options struct {
	Session *chat.Session
	Dialer  Dialer
	History HistoryClient
	Store   UnreadStore

	// ConnectTimeout bounds the handshake and each write. FetchTimeout
	// bounds history and snapshot requests. Both default to 10s.
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration

	Now   func() time.Time
	NewID func() string
}

// RoomSummary is one line of the room list.
type RoomSummary struct {
	Room         chat.Room
	Unread       int
	LastActivity time.Time
}

// view is the session state consulted by event handlers at call time.
type view struct {
	session    *chat.Session
	rooms      map[chat.RoomID]chat.Room
	active     chat.RoomID
	switchSeq  uint64
	transcript []chat.Message
	pending    map[string]struct{}
	// sending holds sends whose write has not returned yet. echoed holds
	// the server time of those among them already confirmed by the relay.
	sending map[string]struct{}
	echoed  map[string]time.Time
}

// Engine ties the connection, registry and indices together for one user
// session. Inbound events, sends and room switches are applied one at a
// time under a single lock.
type Engine struct {
	conn     *ConnectionManager
	registry *RoomRegistry
	unread   *UnreadIndex
	activity *ActivityIndex
	history  HistoryClient

	fetchTimeout time.Duration
	now          func() time.Time
	newID        func() string

	mu   sync.Mutex
	view view

	updates chan struct{}
}

// New builds an Engine in StateDisconnected.
func New(opts Options) *Engine {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	e := &Engine{
		unread:       NewUnreadIndex(opts.Store),
		activity:     NewActivityIndex(),
		history:      opts.History,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		newID:        opts.NewID,
		view: view{
			rooms:   map[chat.RoomID]chat.Room{chat.GlobalRoomID: chat.GlobalRoom()},
			pending: make(map[string]struct{}),
			sending: make(map[string]struct{}),
			echoed:  make(map[string]time.Time),
		},
		updates: make(chan struct{}, 1),
	}
	if opts.Session != nil {
		s := *opts.Session
		e.view.session = &s
	}

	e.conn = NewConnectionManager(opts.Dialer, opts.ConnectTimeout, e.handleEvent)
	e.registry = NewRoomRegistry(e.conn)
	e.conn.OnStateChange(func(s State) {
		if s != StateConnected {
			e.registry.Reset()
		}
		if s == StateConnecting {
			e.mu.Lock()
			clear(e.view.pending)
			clear(e.view.echoed)
			e.mu.Unlock()
		}
		e.notify()
	})
	return e
}

// Load reads the persisted unread counts of the session user. Call it once
// at startup before the first Refresh.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	session := e.view.session
	e.mu.Unlock()
	if session == nil {
		return chat.ErrNoSession
	}
	err := e.unread.Load(ctx, session.UserID)
	e.notify()
	return err
}

// SetSession replaces the session identity. Call Load again when the user
// id changes.
func (e *Engine) SetSession(s chat.Session) {
	e.mu.Lock()
	e.view.session = &s
	e.mu.Unlock()
	e.notify()
}

// Connect opens the connection and joins every standing room.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.conn.Connect(ctx); err != nil {
		return err
	}
	e.joinStanding(ctx)
	return nil
}

// Disconnect closes the connection. Subscriptions are forgotten.
func (e *Engine) Disconnect() {
	e.conn.Disconnect()
}

// State returns the connection state.
func (e *Engine) State() State {
	return e.conn.State()
}

// ConnectionErr returns the failure behind StateError.
func (e *Engine) ConnectionErr() error {
	return e.conn.Err()
}

// OnStateChange registers fn for connection state transitions.
func (e *Engine) OnStateChange(fn func(State)) {
	e.conn.OnStateChange(fn)
}

// Updates signals that some state changed. Signals are coalesced.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// ActiveRoom returns the room currently shown, or "".
func (e *Engine) ActiveRoom() chat.RoomID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view.active
}

// Transcript returns a copy of the active room transcript.
func (e *Engine) Transcript() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.view.transcript)
}

// Unread returns the unread count of room.
func (e *Engine) Unread(room chat.RoomID) int {
	return e.unread.Get(room)
}

// UnreadSnapshot returns every non-zero unread count.
func (e *Engine) UnreadSnapshot() map[chat.RoomID]int {
	return e.unread.Snapshot()
}

// LastActivity returns the time of the last message seen in room.
func (e *Engine) LastActivity(room chat.RoomID) (time.Time, bool) {
	return e.activity.Get(room)
}

// Subscribed reports whether room is subscribed on the current connection.
func (e *Engine) Subscribed(room chat.RoomID) bool {
	return e.registry.Joined(room)
}

// Rooms returns every known room, most recently active first.
func (e *Engine) Rooms() []RoomSummary {
	e.mu.Lock()
	rooms := maps.Clone(e.view.rooms)
	e.mu.Unlock()

	ids := slices.Collect(maps.Keys(rooms))
	summaries := make([]RoomSummary, 0, len(ids))
	for _, id := range e.activity.Order(ids) {
		at, _ := e.activity.Get(id)
		summaries = append(summaries, RoomSummary{
			Room:         rooms[id],
			Unread:       e.unread.Get(id),
			LastActivity: at,
		})
	}
	return summaries
}

func (e *Engine) joinStanding(ctx context.Context) {
	e.mu.Lock()
	userID := e.selfLocked()
	rooms := make([]chat.RoomID, 0, len(e.view.rooms))
	for id := range e.view.rooms {
		rooms = append(rooms, id)
	}
	e.mu.Unlock()

	slices.Sort(rooms)
	for _, room := range rooms {
		e.registry.Join(ctx, room, userID)
	}
}

func (e *Engine) handleEvent(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventMessage:
		e.ingest(ev)
	case protocol.EventRoomCreated:
		e.addRoom(context.Background(), roomFromEvent(ev))
	case protocol.EventRoomRemoved:
		e.removeRoom(context.Background(), chat.RoomID(ev.Room))
	default:
		log.Printf("Ignoring %s event", ev.Type)
	}
	e.notify()
}

func (e *Engine) addRoom(ctx context.Context, room chat.Room) {
	if room.ID == "" {
		return
	}
	e.mu.Lock()
	e.view.rooms[room.ID] = room
	userID := e.selfLocked()
	e.mu.Unlock()

	e.registry.Join(ctx, room.ID, userID)
}

func (e *Engine) removeRoom(ctx context.Context, id chat.RoomID) {
	if id == "" || id == chat.GlobalRoomID {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.view.rooms, id)
	e.registry.Leave(id)
	e.unread.Clear(ctx, id)
	e.activity.Remove(id)
	if e.view.active == id {
		e.view.active = ""
		e.view.switchSeq++
		e.view.transcript = nil
	}
}

func (e *Engine) selfLocked() string {
	if e.view.session == nil {
		return ""
	}
	return e.view.session.UserID
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}

func roomFromEvent(ev protocol.Event) chat.Room {
	kind := chat.RoomGroup
	switch ev.RoomKind {
	case protocol.RoomKindGlobal:
		if chat.RoomID(ev.Room) == chat.GlobalRoomID {
			kind = chat.RoomGlobal
		}
	case protocol.RoomKindDirect:
		kind = chat.RoomDirect
	}
	name := ev.Content
	if name == "" {
		name = ev.Room
	}
	return chat.Room{
		ID:           chat.RoomID(ev.Room),
		Kind:         kind,
		Name:         name,
		Participants: slices.Clone(ev.Participants),
	}
}
