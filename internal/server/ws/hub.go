// Package ws streams outbound sync events to presentation clients over
// websocket. Each client chooses the topics it follows; a topic is
// "{kind}" or "{kind}:{market}" and a trailing '*' matches by prefix.
// Frames are JSON text by default, or binary protobuf Structs when the
// client connects with ?encoding=proto.
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

	"github.com/alanyoungcy/domsync/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// defaultTopics are followed by every client on connect.
var defaultTopics = []string{"*"}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	binary bool
	subs   map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its topics:
// {"action":"subscribe","topics":["book:BTC-PERP","account"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Hub manages a set of connected WebSocket clients and broadcasts outbound
// events to the clients following their topic. It implements
// domain.EventPublisher so the app dispatches to it like any other sink.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
	now        func() time.Time
}

// broadcastMsg carries a message along with its topic so the hub can route
// it only to clients following that topic.
type broadcastMsg struct {
	topic string
	data  []byte
}

// Config captures runtime metadata used in the status frame sent to
// clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// CheckOrigin overrides the upgrader's origin check; nil allows all.
	CheckOrigin func(r *http.Request) bool
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		now:       time.Now,
	}
}

// Publish implements domain.EventPublisher. It never waits on slow clients;
// it blocks only while the hub's own queue is full.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) error {
	data, err := domain.EncodeEvent(ev, h.now())
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{topic: domain.Topic(ev), data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// It handles client registration, unregistration, and message broadcasting.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
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
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			var binary []byte
			var slow []*client
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.topic) {
					data := msg.data
					if c.binary {
						if binary == nil {
							var err error
							if binary, err = protoFrame(msg.data); err != nil {
								h.logger.Warn("ws: proto encode failed", slog.String("error", err.Error()))
								continue
							}
						}
						data = binary
					}
					select {
					case c.send <- data:
					default:
						slow = append(slow, c)
					}
				}
			}
			h.mu.RUnlock()
			if len(slow) > 0 {
				h.evict(slow, msg.topic)
			}
		}
	}
}

// evict disconnects clients whose send buffer is full. Closing send makes
// the write pump close the socket; the read pump's unregister is then a no-op.
func (h *Hub) evict(slow []*client, topic string) {
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
	}
	remaining := len(h.clients)
	h.mu.Unlock()
	h.logger.Warn("ws: dropped slow clients",
		slog.Int("dropped", len(slow)),
		slog.String("topic", topic),
		slog.Int("total_clients", remaining),
	)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws?encoding=json|proto
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	encoding := r.URL.Query().Get("encoding")
	if encoding != "" && encoding != encodingJSON && encoding != encodingProto {
		http.Error(w, "unsupported encoding", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		binary: encoding == encodingProto,
		subs:   make(map[string]bool),
	}
	for _, t := range defaultTopics {
		c.subs[t] = true
	}

	// Queued before registering: once registered only the hub touches send.
	c.sendInitialStatus()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines.
	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads topic changes from the WebSocket connection.
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
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Topics {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.subs, t)
		}
	case "replace":
		c.subs = make(map[string]bool, len(msg.Topics))
		for _, t := range msg.Topics {
			c.subs[t] = true
		}
	}
}

// sendInitialStatus pushes a small JSON envelope so clients can immediately
// mark the connection as healthy even when no market events are flowing yet.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"kind": "status",
		"time": c.hub.now().UTC(),
		"data": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": uptime,
			"topics":         defaultTopics,
		},
	})
	if err != nil {
		return
	}
	if c.binary {
		if msg, err = protoFrame(msg); err != nil {
			return
		}
	}

	select {
	case c.send <- msg:
	default:
	}
}

// isSubscribed checks whether the client follows the given topic.
func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matchTopic(c.subs, topic)
}

func matchTopic(subs map[string]bool, topic string) bool {
	if subs[topic] {
		return true
	}
	// Wildcard match: "book:*" matches "book:BTC-PERP".
	for sub := range subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic pings for keepalive.
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			frameType := websocket.TextMessage
			if c.binary {
				frameType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(frameType, message); err != nil {
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

// Compile-time interface check.
var _ domain.EventPublisher = (*Hub)(nil)
