// Package chat holds the chat data model shared by the client engine, the
// transports and the relay.
package chat

import "context"

// Conn abstracts a bidirectional connection for both TCP and WebSocket.
// Each Read and Write carries exactly one encoded protocol frame.
type Conn interface {
	// Read reads a single frame.
	// Returns io.EOF when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
