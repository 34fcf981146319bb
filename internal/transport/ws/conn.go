// Package ws provides the WebSocket transport built on gobwas/ws.
package ws

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a WebSocket connection to chat.Conn interface.
// It carries one protocol frame per binary WebSocket message.
type Conn struct {
	conn       net.Conn
	rw         io.ReadWriter
	side       ws.State
	remoteAddr string
	writeMu    sync.Mutex
	closeOnce  sync.Once
}

type bufferedConn struct {
	io.Reader
	io.Writer
}

// NewClientConn wraps the client side of an established connection.
// br holds bytes read past the handshake and may be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *Conn {
	return newConn(conn, br, ws.StateClientSide)
}

// NewServerConn wraps the server side of an upgraded connection.
func NewServerConn(conn net.Conn, br *bufio.Reader) *Conn {
	return newConn(conn, br, ws.StateServerSide)
}

func newConn(conn net.Conn, br *bufio.Reader, side ws.State) *Conn {
	var rw io.ReadWriter = conn
	if br != nil {
		rw = bufferedConn{Reader: br, Writer: conn}
	}
	return &Conn{
		conn:       conn,
		rw:         rw,
		side:       side,
		remoteAddr: conn.RemoteAddr().String(),
	}
}

// Read implements chat.Conn.
// Reads a data message; control frames are handled transparently.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	setDeadline(ctx, c.conn.SetReadDeadline)

	var (
		data []byte
		err  error
	)
	if c.side.ClientSide() {
		data, _, err = wsutil.ReadServerData(c.rw)
	} else {
		data, _, err = wsutil.ReadClientData(c.rw)
	}
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a binary message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	setDeadline(ctx, c.conn.SetWriteDeadline)
	if c.side.ClientSide() {
		return wsutil.WriteClientBinary(c.conn, data)
	}
	return wsutil.WriteServerBinary(c.conn, data)
}

// Close implements chat.Conn.
// Sends a close frame on a best-effort basis before closing the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if c.side.ClientSide() {
			_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
		} else {
			_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, body)
		}
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

func setDeadline(ctx context.Context, set func(time.Time) error) {
	if ctx == nil {
		return
	}
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
}
