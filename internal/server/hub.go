package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// sendBufferSize is the per-client outbound message buffer size.
	sendBufferSize = 256
)

// Message types on the event stream.
const (
	TypeEvent       = "event"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeResponse    = "response"
	TypeError       = "error"
)

// Message is a frame sent to or received from an event stream client.
type Message struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SubscribePayload selects the event types a client receives.
type SubscribePayload struct {
	Events []string `json:"events"`
}

// Hub fans events out to connected websocket clients.
type Hub struct {
	log     *zap.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	sendMu sync.Mutex
	send   chan []byte
	closed bool // send is closed

	mu     sync.RWMutex
	events map[string]struct{} // empty receives everything
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: make(map[string]struct{}),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("Event client connected", zap.String("remote_addr", c.conn.RemoteAddr().String()), zap.Int("clients", n))
}

// unregister removes c. Only the caller that removes it closes the send
// channel.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		c.closeSend()
	}
	h.log.Debug("Event client disconnected", zap.Int("clients", n))
}

// drop disconnects a client that cannot keep up.
func (h *Hub) drop(c *wsClient) {
	h.log.Warn("Dropping slow event client", zap.Int("buffered", sendBufferSize))
	h.unregister(c)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Broadcast sends an event to every client that wants eventType.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(Message{
		Type:      TypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.log.Error("Failed to marshal event", zap.String("event", eventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.wants(eventType) && !c.trySend(data) {
			h.drop(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.closeSend()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		delete(h.clients, c)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("Websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(data)
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
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (c *wsClient) handleMessage(data []byte) {
	var msg struct {
		Type    string           `json:"type"`
		Payload SubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(TypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		c.mu.Lock()
		for _, e := range msg.Payload.Events {
			c.events[e] = struct{}{}
		}
		c.mu.Unlock()
		c.reply(TypeResponse, map[string]any{"subscribed": msg.Payload.Events})
	case TypeUnsubscribe:
		c.mu.Lock()
		for _, e := range msg.Payload.Events {
			delete(c.events, e)
		}
		c.mu.Unlock()
		c.reply(TypeResponse, map[string]any{"unsubscribed": msg.Payload.Events})
	default:
		c.reply(TypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.events) == 0 {
		return true
	}
	_, ok := c.events[eventType]
	return ok
}

func (c *wsClient) reply(msgType string, payload any) {
	data, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	if !c.trySend(data) {
		c.hub.drop(c)
	}
}

// trySend queues data for the write pump. It reports false when the
// client's buffer is full; a client already closed swallows the message.
func (c *wsClient) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
