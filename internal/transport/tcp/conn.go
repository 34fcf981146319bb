// Package tcp provides the raw TCP transport.
//
// Frames are prefixed with their length as a protobuf varint, so a single
// Read always returns exactly one encoded event.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds the length prefix accepted by Read.
const MaxFrameSize = 1 << 20

// Conn adapts net.Conn to chat.Conn interface.
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, reader: bufio.NewReader(conn)}
}

// Read implements chat.Conn.
// Reads one length-prefixed frame from the TCP connection.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	c.setDeadline(ctx, c.conn.SetReadDeadline)

	size, err := binary.ReadUvarint(c.reader)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", size, MaxFrameSize)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(data), MaxFrameSize)
	}

	frame := protowire.AppendVarint(make([]byte, 0, len(data)+binary.MaxVarintLen32), uint64(len(data)))
	frame = append(frame, data...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.setDeadline(ctx, c.conn.SetWriteDeadline)
	_, err := c.conn.Write(frame)
	return err
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) setDeadline(ctx context.Context, set func(time.Time) error) {
	if ctx == nil {
		return
	}
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
}
