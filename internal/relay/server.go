package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/omochice/chat-sync/internal/chat"
	"github.com/omochice/chat-sync/internal/transport/tcp"
	"github.com/omochice/chat-sync/internal/transport/ws"
)

// Options configures a Server.
type Options struct {
	// Listen is the HTTP address serving /ws and /api.
	Listen string
	// TCPListen enables the raw TCP listener when set.
	TCPListen string
	Directory *Directory
}

// Server exposes a Hub over HTTP (WebSocket and REST) and optionally raw TCP.
type Server struct {
	opts       Options
	hub        *Hub
	ctx        context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
	tcpServer  *tcp.Server

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		hub:    NewHub(opts.Directory, nil),
		ctx:    ctx,
		cancel: cancel,
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	if opts.TCPListen != "" {
		s.tcpServer = tcp.New(opts.TCPListen, func(ctx context.Context, conn chat.Conn) {
			s.hub.Serve(ctx, conn)
		})
	}
	return s
}

// Hub returns the routing hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler serving /ws and the REST API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.hub.RegisterAPI(mux)
	return mux
}

// Start listens on the configured addresses and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	log.Printf("Relay started on %s (WebSocket and REST)", listener.Addr().String())

	if s.tcpServer != nil {
		if err := s.tcpServer.Start(); err != nil {
			listener.Close()
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Relay HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop closes the listeners and every client connection.
func (s *Server) Stop() {
	s.cancel()
	s.httpServer.Close()
	if s.tcpServer != nil {
		s.tcpServer.Stop()
	}
	s.hub.Close()
	s.wg.Wait()
}

// Addr returns the HTTP listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// TCPAddr returns the raw TCP listening address, or "".
func (s *Server) TCPAddr() string {
	if s.tcpServer == nil {
		return ""
	}
	return s.tcpServer.Addr()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrade(w, r)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	s.hub.Serve(s.ctx, conn)
}
