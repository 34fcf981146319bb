package relay

import (
	"context"
	"testing"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/transport/tcp"
	"github.com/omochice/chat-sync/internal/transport/ws"
	"github.com/omochice/chat-sync/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, dir *Directory) *Server {
	t.Helper()
	srv := NewServer(Options{Listen: "127.0.0.1:0", TCPListen: "127.0.0.1:0", Directory: dir})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func dialWS(t *testing.T, srv *Server) chat.Conn {
	t.Helper()
	conn, err := ws.Dialer{URL: "ws://" + srv.Addr() + "/ws", Timeout: time.Second}.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dialTCP(t *testing.T, srv *Server) chat.Conn {
	t.Helper()
	conn, err := tcp.Dialer{Address: srv.TCPAddr(), Timeout: time.Second}.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn chat.Conn, ev protocol.Event) {
	t.Helper()
	data, err := ev.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), data))
}

func receive(t *testing.T, conn chat.Conn) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev protocol.Event
	require.NoError(t, ev.Decode(data))
	return ev
}

func subscribe(t *testing.T, srv *Server, conn chat.Conn, room chat.RoomID, userID string) {
	t.Helper()
	send(t, conn, protocol.Event{Type: protocol.EventSubscribe, Room: string(room), SenderID: userID})
	require.Eventually(t, func() bool { return srv.Hub().Subscribed(room, userID) }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_BroadcastAcrossTransports(t *testing.T) {
	srv := startServer(t, nil)
	alice := dialWS(t, srv)
	bob := dialTCP(t, srv)

	subscribe(t, srv, alice, chat.GlobalRoomID, "u1")
	subscribe(t, srv, bob, chat.GlobalRoomID, "u2")

	send(t, alice, protocol.Event{
		Type:       protocol.EventSend,
		Room:       "general",
		SenderID:   "u1",
		SenderName: "Alice",
		Content:    "hello",
		ClientID:   "c-1",
	})

	for _, conn := range []chat.Conn{alice, bob} {
		ev := receive(t, conn)
		assert.Equal(t, protocol.EventMessage, ev.Type)
		assert.Equal(t, "general", ev.Room)
		assert.Equal(t, "u1", ev.SenderID)
		assert.Equal(t, "Alice", ev.SenderName)
		assert.Equal(t, "hello", ev.Content)
		assert.Equal(t, "c-1", ev.ClientID)
		assert.False(t, ev.CreatedAt.IsZero())
	}

	msgs := srv.Hub().Messages().History(chat.GlobalRoomID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c-1", msgs[0].ID)
	assert.Equal(t, 2, srv.Hub().ClientCount())
}

func TestServer_EchoesToUnsubscribedSender(t *testing.T) {
	srv := startServer(t, nil)
	alice := dialWS(t, srv)

	send(t, alice, protocol.Event{Type: protocol.EventSend, Room: "g1", SenderID: "u1", Content: "hi", ClientID: "c-1"})

	ev := receive(t, alice)
	assert.Equal(t, "c-1", ev.ClientID)
}

func TestServer_DirectMessageReachesPeerWithoutRoom(t *testing.T) {
	srv := startServer(t, nil)
	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	room := chat.DirectRoomID("u1", "u2")
	subscribe(t, srv, alice, room, "u1")
	subscribe(t, srv, bob, chat.GlobalRoomID, "u2")

	send(t, alice, protocol.Event{
		Type:     protocol.EventSend,
		Room:     string(room),
		SenderID: "u1",
		Content:  "psst",
		ClientID: "c-1",
		RoomKind: protocol.RoomKindDirect,
	})

	echo := receive(t, alice)
	assert.Equal(t, string(room), echo.Room)

	ev := receive(t, bob)
	assert.Empty(t, ev.Room)
	assert.Equal(t, "u1", ev.SenderID)
	assert.Equal(t, "psst", ev.Content)
}

func TestServer_GroupLifecyclePushesEvents(t *testing.T) {
	srv := startServer(t, nil)
	alice := dialWS(t, srv)
	carol := dialTCP(t, srv)
	subscribe(t, srv, alice, chat.GlobalRoomID, "u1")
	subscribe(t, srv, carol, chat.GlobalRoomID, "u3")

	g, err := srv.Hub().CreateGroup("team", "Team", []string{"u1", "u2"})
	require.NoError(t, err)

	ev := receive(t, alice)
	assert.Equal(t, protocol.EventRoomCreated, ev.Type)
	assert.Equal(t, "team", ev.Room)
	assert.Equal(t, "Team", ev.Content)
	assert.Equal(t, protocol.RoomKindGroup, ev.RoomKind)
	assert.Equal(t, []string{"u1", "u2"}, ev.Participants)

	// Non-members are refused.
	send(t, carol, protocol.Event{Type: protocol.EventSubscribe, Room: g.ID, SenderID: "u3"})
	subscribe(t, srv, alice, chat.RoomID(g.ID), "u1")
	assert.False(t, srv.Hub().Subscribed(chat.RoomID(g.ID), "u3"))

	require.NoError(t, srv.Hub().DeleteGroup(g.ID))
	ev = receive(t, alice)
	assert.Equal(t, protocol.EventRoomRemoved, ev.Type)
	assert.Equal(t, "team", ev.Room)
	assert.False(t, srv.Hub().Subscribed(chat.RoomID(g.ID), "u1"))
}

func TestServer_StopClosesClients(t *testing.T) {
	srv := NewServer(Options{Listen: "127.0.0.1:0"})
	require.NoError(t, srv.Start())
	assert.Empty(t, srv.TCPAddr())

	conn := dialWS(t, srv)
	subscribe(t, srv, conn, chat.GlobalRoomID, "u1")

	srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.Read(ctx)
	assert.Error(t, err)
	assert.Zero(t, srv.Hub().ClientCount())
}
