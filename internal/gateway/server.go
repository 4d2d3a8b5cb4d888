// Package gateway carries room events between editor clients and the
// synchronization core over WebSocket.
//
// Each connection becomes one room participant. Inbound messages are
// protocol.Event envelopes dispatched to the room manager; outbound events
// are queued per client and written by a dedicated loop, so a slow client
// can never stall a room broadcast (its queue fills and drops instead).
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeanvil/anvil/internal/room"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on. Port 0 picks a random free port.
	Port int

	// Logger for gateway activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// Server accepts editor WebSocket connections and bridges them to the room
// manager.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	manager *room.Manager

	clients   map[*client]bool
	clientsMu sync.Mutex
	nextID    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a gateway in front of manager.
func NewServer(manager *room.Manager, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		manager: manager,
		clients: make(map[*client]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Gateway listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server, closing every client connection.
func (s *Server) Stop() error {
	s.logger.Println("Stopping gateway")
	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, c)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Gateway stopped")
	return nil
}

// handleWebSocket upgrades a connection and hands it to a client session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	// Full file contents travel in both directions.
	conn.SetReadLimit(16 << 20)

	s.clientsMu.Lock()
	s.nextID++
	c := newClient(fmt.Sprintf("conn-%d", s.nextID), conn, s)
	s.clients[c] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client %s connected (total: %d)", c.Key(), count)

	s.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
}

// removeClient drops a client from the registry and leaves its room.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	_, exists := s.clients[c]
	if exists {
		delete(s.clients, c)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	if projectID := c.project(); projectID != "" {
		s.manager.Leave(c, projectID)
	}
	c.close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client %s disconnected (total: %d)", c.Key(), count)
}

// handleHealth reports gateway and room state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.Lock()
	count := len(s.clients)
	s.clientsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": count,
		"rooms":   s.manager.RoomCount(),
	})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}
