package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is one progress or lifecycle notification pushed to websocket
// subscribers.
type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
	Job       string    `json:"job,omitempty"`
	Fraction  float64   `json:"fraction,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	EventProgress       = "progress"
	EventProjectAdded   = "project_added"
	EventProjectRemoved = "project_removed"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to websocket subscribers. Slow subscribers are
// dropped rather than allowed to block publishers.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "events").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[string]*client{},
	}
}

// Progress publishes a job progress update. Its signature matches the
// workspace progress sink so the hub can be wired in directly.
func (h *Hub) Progress(projectID, kind string, fraction float64) {
	h.publish(Event{
		Type:      EventProgress,
		ProjectID: projectID,
		Job:       kind,
		Fraction:  fraction,
		Timestamp: time.Now().UTC(),
	})
}

// ProjectAdded publishes a project lifecycle event.
func (h *Hub) ProjectAdded(projectID string) {
	h.publish(Event{Type: EventProjectAdded, ProjectID: projectID, Timestamp: time.Now().UTC()})
}

// ProjectRemoved publishes a project lifecycle event.
func (h *Hub) ProjectRemoved(projectID string) {
	h.publish(Event{Type: EventProjectRemoved, ProjectID: projectID, Timestamp: time.Now().UTC()})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, cl := range h.clients {
		select {
		case cl.send <- ev:
		default:
			// Subscriber is not keeping up; drop it.
			h.logger.Warn().Str("client_id", id).Msg("Dropping slow event subscriber")
			close(cl.send)
			delete(h.clients, id)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, cl := range h.clients {
		close(cl.send)
		delete(h.clients, id)
	}
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	cl := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan Event, 64),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[cl.id] = cl
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", cl.id).Msg("Event subscriber connected")

	go h.writeLoop(cl)
	h.readLoop(cl)
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer cl.conn.Close()

	for {
		select {
		case ev, ok := <-cl.send:
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(ev); err != nil {
				h.remove(cl.id)
				return
			}
		case <-ticker.C:
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(cl.id)
				return
			}
		}
	}
}

// readLoop drains incoming frames so pings and close frames are
// processed; subscribers are not expected to send anything else.
func (h *Hub) readLoop(cl *client) {
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client_id", cl.id).Msg("Event subscriber read error")
			}
			h.remove(cl.id)
			return
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cl, ok := h.clients[id]; ok {
		close(cl.send)
		delete(h.clients, id)
		h.logger.Debug().Str("client_id", id).Msg("Event subscriber disconnected")
	}
}
