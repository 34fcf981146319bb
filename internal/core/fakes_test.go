package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory chat.Conn. Frames pushed with deliver are
// returned by Read; frames written are decoded and recorded.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []protocol.Event
	writeErr error
	// onWrite runs after a frame is recorded, before Write returns.
	onWrite func(protocol.Event)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	var ev protocol.Event
	if err := ev.Decode(data); err != nil {
		return err
	}

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.written = append(c.written, ev)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

func (c *fakeConn) setOnWrite(fn func(protocol.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) deliver(t *testing.T, ev protocol.Event) {
	t.Helper()
	data, err := ev.Encode()
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) sent(typ protocol.EventType) []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Event
	for _, ev := range c.written {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) subscribed() []string {
	var rooms []string
	for _, ev := range c.sent(protocol.EventSubscribe) {
		rooms = append(rooms, ev.Room)
	}
	return rooms
}

// fakeDialer hands out a fresh fakeConn per successful dial.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	gate  chan struct{}
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (chat.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	err := d.err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeHistory serves canned histories. A room with a gate blocks in
// History until the gate is closed.
type fakeHistory struct {
	mu        sync.Mutex
	histories map[chat.RoomID][]chat.Message
	errs      map[chat.RoomID]error
	gates     map[chat.RoomID]chan struct{}
	started   chan chat.RoomID
	marked    []chat.RoomID
	markGate  chan struct{}
	markDone  []bool
	snapshot  chat.SocialSnapshot
	snapErr   error
	snapCalls int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		histories: make(map[chat.RoomID][]chat.Message),
		errs:      make(map[chat.RoomID]error),
		gates:     make(map[chat.RoomID]chan struct{}),
		started:   make(chan chat.RoomID, 16),
	}
}

func (h *fakeHistory) History(ctx context.Context, room chat.RoomID) ([]chat.Message, error) {
	h.mu.Lock()
	gate := h.gates[room]
	h.mu.Unlock()

	h.started <- room
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.errs[room]; err != nil {
		return nil, err
	}
	return append([]chat.Message(nil), h.histories[room]...), nil
}

func (h *fakeHistory) MarkRead(ctx context.Context, room chat.RoomID) error {
	h.mu.Lock()
	h.marked = append(h.marked, room)
	_, ok := ctx.Deadline()
	h.markDone = append(h.markDone, ok)
	gate := h.markGate
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *fakeHistory) markDeadlines() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.markDone...)
}

func (h *fakeHistory) SocialSnapshot(context.Context) (chat.SocialSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapCalls++
	return h.snapshot, h.snapErr
}

func (h *fakeHistory) setHistory(room chat.RoomID, msgs ...chat.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.histories[room] = msgs
}

func (h *fakeHistory) setErr(room chat.RoomID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[room] = err
}

func (h *fakeHistory) gate(room chat.RoomID) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	gate := make(chan struct{})
	h.gates[room] = gate
	return gate
}

func (h *fakeHistory) markedRooms() []chat.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chat.RoomID(nil), h.marked...)
}

func (h *fakeHistory) snapshotCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapCalls
}

// memStore records every saved unread map.
type memStore struct {
	mu      sync.Mutex
	data    map[string]map[chat.RoomID]int
	saves   int
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]map[chat.RoomID]int)}
}

func (s *memStore) LoadUnread(_ context.Context, userID string) (map[chat.RoomID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return maps.Clone(s.data[userID]), nil
}

func (s *memStore) SaveUnread(_ context.Context, userID string, counts map[chat.RoomID]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.data[userID] = maps.Clone(counts)
	return nil
}

func (s *memStore) saved(userID string) map[chat.RoomID]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data[userID])
}

// fakeClock advances one second per call.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testEngine struct {
	*Engine
	dialer  *fakeDialer
	history *fakeHistory
	store   *memStore
	clock   *fakeClock
}

func newTestEngine(t *testing.T, userID string) *testEngine {
	t.Helper()
	te := &testEngine{
		dialer:  &fakeDialer{},
		history: newFakeHistory(),
		store:   newMemStore(),
		clock:   newFakeClock(),
	}
	ids := 0
	te.Engine = New(Options{
		Session:        &chat.Session{UserID: userID, DisplayName: "name-" + userID},
		Dialer:         te.dialer,
		History:        te.history,
		Store:          te.store,
		ConnectTimeout: time.Second,
		FetchTimeout:   time.Second,
		Now:            te.clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("%s-msg-%d", userID, ids)
		},
	})
	require.NoError(t, te.Load(context.Background()))
	t.Cleanup(te.Disconnect)
	return te
}

func (te *testEngine) connect(t *testing.T) *fakeConn {
	t.Helper()
	require.NoError(t, te.Connect(context.Background()))
	return te.dialer.last()
}

func inbound(room, sender, content string) protocol.Event {
	return protocol.Event{
		Type:       protocol.EventMessage,
		Room:       room,
		SenderID:   sender,
		SenderName: "name-" + sender,
		Content:    content,
		CreatedAt:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var errBoom = errors.New("boom")
