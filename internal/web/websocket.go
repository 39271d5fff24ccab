package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/fleetctl/internal/audit"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamFilter narrows a client's event stream. Zero value passes all.
type streamFilter struct {
	node     string
	agent    string
	failures bool
}

func filterFromQuery(r *http.Request) streamFilter {
	q := r.URL.Query()
	return streamFilter{
		node:     q.Get("node"),
		agent:    q.Get("agent"),
		failures: q.Get("failures") == "true",
	}
}

func (f streamFilter) match(e audit.Event) bool {
	if f.node != "" && e.Data["node"] != f.node {
		return false
	}
	if f.agent != "" && e.Data["agent"] != f.agent {
		return false
	}
	if f.failures {
		switch e.Data["level"] {
		case "ERROR", "CRITICAL":
		default:
			return false
		}
	}
	return true
}

// Hub fans fleet events out to websocket clients, each through its own
// filter.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]streamFilter
	broadcast chan audit.Event
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]streamFilter),
		broadcast: make(chan audit.Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case event := <-h.broadcast:
			h.send(event)
		}
	}
}

func (h *Hub) send(event audit.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, f := range h.clients {
		if !f.match(event) {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Broadcast queues event for delivery. When the queue is full the event is
// dropped.
func (h *Hub) Broadcast(event audit.Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("websocket broadcast channel full, dropping event", "type", event.Type)
	}
}

func (h *Hub) register(conn *websocket.Conn, f streamFilter) {
	h.mu.Lock()
	h.clients[conn] = f
	h.mu.Unlock()
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleWebSocket streams events, optionally filtered by ?node=, ?agent=
// and ?failures=true.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.register(conn, f)
	defer func() {
		s.hub.unregister(conn)
		conn.Close()
	}()

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
