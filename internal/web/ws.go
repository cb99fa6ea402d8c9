package web

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/localhive/localhive/internal/agent"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The facade binds to localhost by default; cross-origin frames from a
	// local UI are expected.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan map[string]any
}

// Hub fans runtime notifications out to websocket clients. A slow client's
// buffer filling up drops that client rather than blocking the emitter.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient
	closed  bool
}

// NewHub creates the hub and subscribes it to all runtime notifications.
func NewHub(emitter *agent.Emitter, logger *slog.Logger) *Hub {
	h := &Hub{
		logger:  logger.With("component", "ws"),
		clients: make(map[string]*wsClient),
	}
	emitter.SubscribeAll(func(n agent.Notification) {
		h.Broadcast(n.WebSocketFrame())
	})
	return h
}

// HandleWS upgrades the connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{id: clientID, conn: conn, send: make(chan map[string]any, wsSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if old, ok := h.clients[clientID]; ok {
		close(old.send)
	}
	h.clients[clientID] = client
	h.mu.Unlock()

	h.logger.Info("websocket client connected", "client_id", clientID)
	client.send <- map[string]any{
		"type":      "connected",
		"client_id": clientID,
		"timestamp": time.Now().Unix(),
	}

	go h.writeLoop(client)
	go h.readLoop(client)
}

// writeLoop drains the client's send channel and keeps the connection alive
// with pings.
func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				h.logger.Debug("websocket write failed", "client_id", c.id, "error", err)
				h.remove(c.id)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c.id)
				return
			}
		}
	}
}

// readLoop discards inbound frames (the stream is one-way) and detects
// disconnects.
func (h *Hub) readLoop(c *wsClient) {
	defer h.remove(c.id)
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		close(c.send)
	}
}

// Broadcast queues a frame to every connected client, dropping clients whose
// buffers are full.
func (h *Hub) Broadcast(frame map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("websocket client too slow, dropping", "client_id", id)
			delete(h.clients, id)
			close(c.send)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
