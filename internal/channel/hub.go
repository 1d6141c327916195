package channel

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// session is one connected client with a write lock, since gorilla
// permits only one concurrent writer per conn.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

// Hub is the server side of the message channel: it relays every valid
// event from one client to all others and into the local bus, so server
// components observe the same stream the clients do.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	bus      *Bus
	logger   *slog.Logger
}

func NewHub(bus *Bus, logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*session), bus: bus, logger: logger}
}

// Bus exposes the stream every client event lands on, for server-side
// observers.
func (h *Hub) Bus() *Bus { return h.bus }

// Add registers a connection and pumps its messages until it closes. A
// reconnect under the same id replaces the old session.
func (h *Hub) Add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	if old, ok := h.sessions[id]; ok {
		_ = old.conn.Close()
	}
	h.sessions[id] = &session{conn: conn}
	h.mu.Unlock()

	go h.readPump(id, conn)
}

func (h *Hub) remove(id string, conn *websocket.Conn) {
	h.mu.Lock()
	if s, ok := h.sessions[id]; ok && s.conn == conn {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// Broadcast fans an event out to every connected client except the sender.
func (h *Hub) Broadcast(ev Event, exclude string) {
	raw, err := Encode(ev)
	if err != nil {
		h.logger.Error("encode broadcast event", "event", ev.EventName(), "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		if id == exclude {
			continue
		}
		if err := s.send(raw); err != nil {
			h.logger.Warn("ws send failed", "client", id, "error", err)
		}
	}
}

// Send delivers an event to a single client, a no-op if not connected.
func (h *Hub) Send(id string, ev Event) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	raw, err := Encode(ev)
	if err != nil {
		return err
	}
	return s.send(raw)
}

func (h *Hub) readPump(id string, conn *websocket.Conn) {
	defer h.remove(id, conn)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := Decode(raw)
		if err != nil {
			h.logger.Warn("undecodable event from client", "client", id, "error", err)
			continue
		}
		h.bus.Publish(ev)
		h.Broadcast(ev, id)
	}
}
