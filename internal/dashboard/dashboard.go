// Package dashboard implements an optional, read-only HTTP+WebSocket
// server for observing daemon state: watched roots, connected client
// count, and each root's current tick. It never accepts commands — the
// only way to talk to the daemon is the Unix socket protocol
// internal/dispatch implements.
//
// Built around a broadcast channel and a client set guarded by a
// sync.RWMutex: Publish fans a fresh snapshot out to every connected
// WebSocket client without blocking on a slow reader.
package dashboard

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
)

// RootSnapshot describes one watched root for the dashboard feed.
type RootSnapshot struct {
	Path  string `json:"path"`
	Ticks uint32 `json:"ticks"`
}

// Snapshot is the full state broadcast on every tick advance or
// client connect/disconnect.
type Snapshot struct {
	Roots     []RootSnapshot `json:"roots"`
	Clients   int            `json:"clients"`
	Timestamp time.Time      `json:"timestamp"`
}

// StateProvider supplies the data a Snapshot needs. internal/server
// implements this over the live fsroot.Registry and session.Table.
type StateProvider interface {
	RootSnapshots() []RootSnapshot
	ClientCount() int
}

// Server is the dashboard's HTTP+WebSocket listener.
type Server struct {
	addr     string
	state    StateProvider
	listener net.Listener
	http     *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer returns a dashboard server that will listen on addr
// (host:port) once Start is called.
func NewServer(addr string, state StateProvider, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		state:     state,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Snapshot, 64),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start binds the listener and begins serving. Non-blocking.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("dashboard listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("dashboard server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every connection and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "daemon shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Publish queues a fresh snapshot for broadcast. Safe from any goroutine
// (the fsroot tick pump, the session table on connect/disconnect); never
// blocks — a full channel drops the update, since a later tick will
// supersede it.
func (s *Server) Publish() {
	snap := Snapshot{
		Roots:     s.state.RootSnapshots(),
		Clients:   s.state.ClientCount(),
		Timestamp: time.Now(),
	}
	select {
	case s.broadcast <- snap:
	case <-s.ctx.Done():
	default:
		s.logger.Println("dashboard: broadcast channel full, dropping snapshot")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case snap := <-s.broadcast:
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Printf("dashboard: marshal snapshot: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for c := range s.clients {
				conns = append(conns, c)
			}
			s.clientsMu.RUnlock()

			for _, c := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := c.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(c)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Printf("dashboard: websocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	go s.readLoop(conn)
	s.Publish()
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
		// Read-only feed: inbound frames are discarded, just keeping the
		// connection alive and its close detectable.
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.state.ClientCount()})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>pathwatchd dashboard</title></head>
<body>
<h1>pathwatchd</h1>
<p>WebSocket feed: <code>ws://%s/ws</code></p>
<p>Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
