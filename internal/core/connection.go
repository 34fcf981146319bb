package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/pkg/protocol"
)

// ConnectionManager owns the single live relay connection.
//
// Transport failures move the connection to StateError and are not retried;
// the caller decides when to Connect again.
type ConnectionManager struct {
	dialer  Dialer
	timeout time.Duration
	handler func(protocol.Event)

	// notifyMu is held across a state change and the delivery of that change
	// to listeners, so listeners observe transitions in order. Listeners must
	// not call back into the manager.
	notifyMu  sync.Mutex
	listeners []func(State)

	mu      sync.Mutex
	state   State
	conn    chat.Conn
	cancel  context.CancelFunc
	attempt uint64
	lastErr error
	wg      sync.WaitGroup
}

// NewConnectionManager creates a manager in StateDisconnected. handler
// receives every decoded inbound event on the read goroutine.
func NewConnectionManager(dialer Dialer, timeout time.Duration, handler func(protocol.Event)) *ConnectionManager {
	return &ConnectionManager{
		dialer:  dialer,
		timeout: timeout,
		handler: handler,
	}
}

// OnStateChange registers fn to be called after every state transition.
func (m *ConnectionManager) OnStateChange(fn func(State)) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure that moved the connection to StateError, if any.
func (m *ConnectionManager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect opens the transport. It is a no-op while connecting or connected.
// A failed or timed out handshake leaves the manager in StateError and
// returns an error wrapping chat.ErrConnectFailed.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.notifyMu.Lock()
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.lastErr = nil
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()
	m.deliver(StateConnecting)
	m.notifyMu.Unlock()

	dialCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(dialCtx)

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()

	if m.attempt != attempt {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("%w: disconnected during handshake", chat.ErrConnectFailed)
	}

	if err != nil {
		m.state = StateError
		m.lastErr = err
		m.mu.Unlock()
		m.deliver(StateError)
		return fmt.Errorf("%w: %w", chat.ErrConnectFailed, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.cancel = cancel
	m.state = StateConnected
	m.wg.Add(1)
	go m.readLoop(readCtx, conn)
	m.mu.Unlock()

	log.Printf("Connected to %s", conn.RemoteAddr())
	m.deliver(StateConnected)
	return nil
}

// Disconnect tears down the transport and moves to StateDisconnected.
// It must not be called from the inbound event handler.
func (m *ConnectionManager) Disconnect() {
	m.notifyMu.Lock()
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return
	}
	m.attempt++
	m.closeLocked()
	m.state = StateDisconnected
	m.lastErr = nil
	m.mu.Unlock()
	m.deliver(StateDisconnected)
	m.notifyMu.Unlock()

	m.wg.Wait()
}

// Send encodes ev and writes it to the connection. A write failure moves
// the connection to StateError.
func (m *ConnectionManager) Send(ctx context.Context, ev protocol.Event) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()

	if state != StateConnected || conn == nil {
		return chat.ErrNotConnected
	}

	data, err := ev.Encode()
	if err != nil {
		return err
	}

	writeCtx := ctx
	if _, ok := ctx.Deadline(); !ok && m.timeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := conn.Write(writeCtx, data); err != nil {
		m.fail(conn, err)
		return fmt.Errorf("failed to send %s: %w", ev.Type, err)
	}
	return nil
}

func (m *ConnectionManager) readLoop(ctx context.Context, conn chat.Conn) {
	defer m.wg.Done()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("connection closed by %s: %w", conn.RemoteAddr(), err)
			}
			m.fail(conn, err)
			return
		}

		var ev protocol.Event
		if err := ev.Decode(data); err != nil {
			log.Printf("Failed to decode event: %v", err)
			continue
		}
		if m.handler != nil {
			m.handler(ev)
		}
	}
}

// fail moves to StateError if conn is still the live connection.
func (m *ConnectionManager) fail(conn chat.Conn, err error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.closeLocked()
	m.state = StateError
	m.lastErr = err
	m.mu.Unlock()

	log.Printf("Connection error: %v", err)
	m.deliver(StateError)
}

func (m *ConnectionManager) closeLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// deliver must be called with notifyMu held and mu released.
func (m *ConnectionManager) deliver(s State) {
	for _, fn := range m.listeners {
		fn(s)
	}
}
