// Package signaling pushes live status and alert events to dashboard
// browsers over websockets.
package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"medminder/pkg/models"
)

const (
	EventStatusUpdate = "status_update"
	EventNewAlert     = "new_alert"

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Event is the envelope every dashboard message uses.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Conn is the subset of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Client struct {
	ID   string
	send chan []byte
	conn Conn
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("👤 dashboard connected", "client", c.ID, "clients", n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("👋 dashboard disconnected", "client", c.ID, "clients", n)
}

// Broadcast queues ev for every client. Slow clients drop the event rather
// than block the caller.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("❌ failed to marshal event", "type", ev.Type, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("⚠️ dashboard client too slow, event dropped", "client", c.ID, "type", ev.Type)
		}
	}
}

// OnStatus forwards ledger writes.
func (h *Hub) OnStatus(e models.StatusEvent) {
	h.Broadcast(Event{Type: EventStatusUpdate, Data: e})
}

// BroadcastAlert forwards caregiver alerts.
func (h *Hub) BroadcastAlert(a models.Alert) {
	h.Broadcast(Event{Type: EventNewAlert, Data: a})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the browser leaves.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("⚠️ websocket upgrade failed", "err", err)
		return
	}
	h.Attach(ws)
}

// Attach runs the pumps for an established connection.
func (h *Hub) Attach(conn Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		conn: conn,
	}
	h.register(c)
	go h.writePump(c)
	go h.readPump(c)
	return c
}

// readPump only watches for the close and keeps the deadline fresh; the
// dashboard never sends commands.
func (h *Hub) readPump(c *Client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
