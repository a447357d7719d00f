// Package ws streams execution lifecycle events to WebSocket clients.
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

	"github.com/alanyoungcy/routeengine/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// defaultTopics are the topics a new client receives until it subscribes
// to something narrower.
var defaultTopics = []string{"execution.*"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	topics     map[string]bool
	executions map[string]bool
}

// subscribeMsg is the JSON message a client sends to change its filters.
// Topics are event types and may end in "*". Executions narrows delivery to
// the listed execution ids; an empty set means every execution.
type subscribeMsg struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics     []string `json:"topics"`
	Executions []string `json:"executions"`
}

// Hub manages a set of connected WebSocket clients and broadcasts execution
// events to the clients whose filters match.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger

	mode      string
	startedAt time.Time
	active    func() int
}

type broadcastMsg struct {
	topic       string
	executionID string
	data        []byte
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// Active reports the number of live executions; nil reports zero.
	Active func() int
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
		active:     cfg.Active,
	}
}

// Run starts the hub's main event loop and returns when ctx ends.
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
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.topic, msg.executionID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("topic", msg.topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues ev for delivery. It never blocks; events are dropped when
// the hub is saturated or stopped.
func (h *Hub) Publish(ctx context.Context, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	h.enqueue(broadcastMsg{topic: ev.Type, executionID: ev.ExecutionID, data: data})
}

func (h *Hub) enqueue(msg broadcastMsg) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("broadcast queue full, dropping event", slog.String("topic", msg.topic))
	}
}

// Relay forwards events published on a message bus channel by any process
// until ctx ends. It is an alternative to Publish for multi-process setups.
func (h *Hub) Relay(ctx context.Context, bus domain.MessageBus, channel string) error {
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	h.logger.Info("relaying channel", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("relay channel closed", slog.String("channel", channel))
				return nil
			}
			var head struct {
				Type        string `json:"type"`
				ExecutionID string `json:"execution_id"`
			}
			if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
				h.logger.Debug("skipping malformed relay payload")
				continue
			}
			h.enqueue(broadcastMsg{topic: head.Type, executionID: head.ExecutionID, data: data})
		}
	}
}

var _ domain.EventPublisher = (*Hub)(nil)

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		topics:     make(map[string]bool),
		executions: make(map[string]bool),
	}
	for _, t := range defaultTopics {
		c.topics[t] = true
	}
	for _, id := range r.URL.Query()["execution_id"] {
		c.executions[id] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendInitialStatus()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

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
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		if len(msg.Topics) > 0 {
			clear(c.topics)
		}
		for _, t := range msg.Topics {
			c.topics[t] = true
		}
		for _, id := range msg.Executions {
			c.executions[id] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.topics, t)
		}
		for _, id := range msg.Executions {
			delete(c.executions, id)
		}
	}
}

// sendInitialStatus lets clients mark the connection healthy before any
// execution event flows.
func (c *client) sendInitialStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	active := 0
	if c.hub.active != nil {
		active = c.hub.active()
	}
	msg, err := json.Marshal(map[string]any{
		"type": "engine_status",
		"payload": map[string]any{
			"mode":              c.hub.mode,
			"uptime_seconds":    uptime,
			"active_executions": active,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// wants reports whether the client's filters match.
func (c *client) wants(topic, executionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.executions) > 0 && !c.executions[executionID] {
		return false
	}
	if c.topics[topic] {
		return true
	}
	for sub := range c.topics {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

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
