package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dcawatch/pkg/logx"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is read-only; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub streams delivered messages to websocket clients. Slow clients lose
// messages instead of stalling the delivery path.
type Hub struct {
	log logx.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

func NewHub(log logx.Logger) *Hub {
	return &Hub{log: log, clients: make(map[*wsClient]struct{})}
}

// envelope is the frame format sent to clients.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Broadcast sends one delivered message to every client.
func (h *Hub) Broadcast(m SentMessage) {
	data, err := json.Marshal(envelope{Type: "message", Payload: m})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("ws: dropping message for slow client")
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) reopen() {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()
}

// add registers c and queues first as its opening frame. Both happen under
// the lock so Close cannot close c.send in between.
func (h *Hub) add(c *wsClient, first []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if first != nil {
		c.send <- first
	}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and replays the recent messages.
// GET /ws
func (h *Hub) ServeWS(recent func() []SentMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("ws: upgrade failed", logx.Err(err))
			return
		}
		var first []byte
		if recent != nil {
			first, _ = json.Marshal(envelope{Type: "history", Payload: recent()})
		}
		c := &wsClient{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
		if !h.add(c, first) {
			_ = conn.Close()
			return
		}
		h.log.Debug("ws: client connected", logx.Int("clients", h.Clients()))

		go c.writePump()
		go c.readPump()
	}
}

// readPump only services control frames; client text is ignored.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws: unexpected close", logx.Err(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
