package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	natsbus "github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/hive"
	"github.com/nats-io/nats.go"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Event struct {
	Type    string      `json:"type"`
	Domain  hive.Domain `json:"domain"`
	Payload any         `json:"payload"`
}

// Hub fans bus events out to WebSocket clients. Each client may narrow
// its stream to a single domain channel; the empty domain means all.
type Hub struct {
	clients   map[*websocket.Conn]hive.Domain
	broadcast chan Event
	mu        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]hive.Domain),
		broadcast: make(chan Event, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			for client, filter := range h.clients {
				if filter != "" && filter != event.Domain {
					continue
				}
				if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("websocket broadcast channel full, dropping event")
	}
}

func (h *Hub) Register(conn *websocket.Conn, filter hive.Domain) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = filter
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// handleWebSocket upgrades the connection and streams bus events. The
// optional ?domain= query narrows the stream to one domain channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var filter hive.Domain
	if q := r.URL.Query().Get("domain"); q != "" {
		d, err := hive.ParseDomain(q)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = d
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	s.hub.Register(conn, filter)
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Drain reads until the client goes away; events flow one way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// subscribeEvents bridges every domain channel to connected WebSocket
// clients.
func (s *Server) subscribeEvents() {
	if s.nats == nil {
		return
	}

	_, err := s.nats.Subscribe(natsbus.SubjectEventsAll, func(msg *nats.Msg) {
		var m hive.Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			return
		}
		s.hub.Broadcast(Event{Type: m.Type, Domain: m.Domain, Payload: m})
	})
	if err != nil {
		slog.Error("event subscription failed", "error", err)
	}
}
