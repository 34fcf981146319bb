package tcp_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/transport/tcp"
)

func echoHandler(ctx context.Context, conn chat.Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if err := conn.Write(ctx, data); err != nil {
			return
		}
	}
}

func TestServer_Start(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", echoHandler)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop()

	if srv.Addr() == "" {
		t.Fatal("Addr() returned empty string")
	}

	conn, err := tcp.Dialer{Address: srv.Addr(), Timeout: time.Second}.Dial(context.Background())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	if err := conn.Write(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("Read() = %q, want %q", string(data), "ping")
	}
}

func TestServer_Stop(t *testing.T) {
	srv := tcp.New("127.0.0.1:0", echoHandler)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := srv.Addr()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	// Stop must not hang on the open connection.
	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}

	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Error("expected error after stop, got nil")
	}
}

func TestDialer_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	_, err = tcp.Dialer{Address: addr, Timeout: time.Second}.Dial(context.Background())
	if err == nil {
		t.Error("expected connection error, got nil")
	}
}
