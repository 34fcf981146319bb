package chat

import "errors"

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("not connected to server")
	// ErrConnectFailed is returned when the transport handshake fails.
	ErrConnectFailed = errors.New("connect failed")
	// ErrHistoryFetchFailed is returned when a room history cannot be loaded.
	// The caller may retry by switching to the room again.
	ErrHistoryFetchFailed = errors.New("history fetch failed")
	// ErrStaleRoomSwitch marks a history result that arrived after the
	// active room changed. It is discarded and never returned to callers.
	ErrStaleRoomSwitch = errors.New("stale room switch")

	ErrEmptyContent = errors.New("message content is empty")
	ErrNoSession    = errors.New("no session")
	ErrNoActiveRoom = errors.New("no active room")
)
