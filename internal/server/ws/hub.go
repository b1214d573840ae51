// Package ws pushes engine events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // event types, "*" for all
	mu   sync.RWMutex
}

// subscribeMsg is what a client sends to change its event filter:
// {"action":"subscribe","channels":["trade_closed","emergency_stop"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub fans engine events out to connected websocket clients. It is a
// domain.Publisher for an engine in the same process; Broadcast accepts
// already-encoded events relayed from another process.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	snapshot   func() any
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

var _ domain.Publisher = (*Hub)(nil)

type broadcastMsg struct {
	eventType string
	data      []byte
}

// NewHub creates a Hub. snapshot, when set, supplies the status payload sent
// to each client as it connects. allowedOrigins restricts upgrades; an empty
// list allows any origin.
func NewHub(snapshot func() any, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run handles client registration and broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client", slog.String("event", msg.eventType))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish encodes the event envelope and queues it for every subscribed
// client. It never blocks: events are dropped when the queue is full.
func (h *Hub) Publish(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(domain.Event{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		return err
	}
	h.enqueue(eventType, data)
	return nil
}

// Broadcast queues an already-encoded domain.Event, as relayed from the
// event bus.
func (h *Hub) Broadcast(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		h.logger.Debug("ws: ignoring malformed relayed event")
		return
	}
	h.enqueue(env.Type, data)
}

func (h *Hub) enqueue(eventType string, data []byte) {
	select {
	case h.broadcast <- broadcastMsg{eventType: eventType, data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event", slog.String("event", eventType))
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"*": true},
	}

	c.sendInitialStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		// An explicit subscription replaces the catch-all.
		delete(c.subs, "*")
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendInitialStatus pushes the current engine status so a client can render
// immediately.
func (c *client) sendInitialStatus() {
	if c.hub.snapshot == nil {
		return
	}
	msg, err := json.Marshal(domain.Event{Type: domain.EventStatus, At: time.Now().UTC(), Payload: c.hub.snapshot()})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs["*"] || c.subs[eventType]
}

// writePump writes queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
