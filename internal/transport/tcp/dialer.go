package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
)

// Dialer opens TCP connections to the relay.
type Dialer struct {
	Address string
	Timeout time.Duration
}

// Dial connects to Address.
func (d Dialer) Dial(ctx context.Context) (chat.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Address, err)
	}
	return NewConn(conn), nil
}
