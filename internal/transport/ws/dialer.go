package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/omochice/chat-sync/internal/chat"
)

// Dialer opens WebSocket connections to the relay.
type Dialer struct {
	URL     string
	Timeout time.Duration
}

// Dial performs the WebSocket handshake against URL.
func (d Dialer) Dial(ctx context.Context) (chat.Conn, error) {
	dialer := ws.Dialer{Timeout: d.Timeout}
	conn, br, _, err := dialer.Dial(ctx, d.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.URL, err)
	}
	return NewClientConn(conn, br), nil
}

// Upgrade performs the server side of the handshake on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	return NewServerConn(conn, rw.Reader), nil
}
