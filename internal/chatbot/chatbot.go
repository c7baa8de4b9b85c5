// Package chatbot adapts the event fabric to a room-based WebSocket fan-out,
// the transport a support chat-bot integration would attach to (spec §1).
// The chat-bot's own message handling is out of scope; this package only
// owns the socket lifecycle and the EventBus subscription that feeds it.
package chatbot

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/domain/eventbus"
)

// Config controls the hub's socket behavior (spec §6 chatbot.*).
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func (c *Config) applyDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
}

// Message is the wire frame fanned out to connected sockets.
type Message struct {
	Type    string                 `json:"type"`
	Scope   eventbus.Scope         `json:"scope"`
	Payload map[string]interface{} `json:"payload"`
}

// conn is one upgraded WebSocket connection, room-scoped by agent so a
// desk's chat widget only sees its own traffic.
type conn struct {
	id     string
	room   string
	ws     *websocket.Conn
	send   chan Message
	closed int32
}

// Hub owns upgraded connections, grouped into agent-scoped rooms, and the
// single EventBus subscription that feeds all of them.
type Hub struct {
	bus      *eventbus.Bus
	logger   *logging.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[string]*conn // room -> connID -> conn

	sub    eventbus.Handle
	events <-chan eventbus.Event
	done   chan struct{}
}

// New builds a Hub. checkOrigin, if nil, allows all origins (deployments
// are expected to front this with an authenticating reverse proxy).
func New(bus *eventbus.Bus, logger *logging.Logger, cfg Config, checkOrigin func(*http.Request) bool) *Hub {
	cfg.applyDefaults()
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		rooms: make(map[string]map[string]*conn),
	}
}

// Name implements lifecycle.Service.
func (h *Hub) Name() string { return "chatbot" }

// Start subscribes to every agent-scoped bus event and fans it out to the
// rooms whose scope matches.
func (h *Hub) Start(ctx context.Context) error {
	handle, events := h.bus.Subscribe(eventbus.SubscribeOptions{Mode: eventbus.DropOldest})
	h.sub = handle
	h.events = events
	h.done = make(chan struct{})
	go h.fanOut()
	return nil
}

// Stop unsubscribes from the bus and closes every live connection.
func (h *Hub) Stop(ctx context.Context) error {
	h.bus.Unsubscribe(h.sub)
	select {
	case <-h.done:
	case <-ctx.Done():
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for room, conns := range h.rooms {
		for _, c := range conns {
			h.closeConn(c)
		}
		delete(h.rooms, room)
	}
	return nil
}

func (h *Hub) fanOut() {
	defer close(h.done)
	for event := range h.events {
		if event.Scope.AgentID == "" {
			continue
		}
		h.publish(event.Scope.AgentID, Message{Type: event.Type, Scope: event.Scope, Payload: event.Payload})
	}
}

func (h *Hub) publish(room string, msg Message) {
	h.mu.RLock()
	conns := h.rooms[room]
	targets := make([]*conn, 0, len(conns))
	for _, c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			h.logger.WithFields(map[string]interface{}{"room": room, "connId": c.id}).Warn("chatbot send buffer full, dropping message")
		}
	}
}

// ServeWS upgrades the request to a WebSocket and joins it to the room
// identified by agentID (typically taken from an authenticated session).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, agentID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &conn{id: uuid.NewString(), room: agentID, ws: ws, send: make(chan Message, h.cfg.SendBuffer)}
	h.join(c)

	go h.writeLoop(c)
	h.readLoop(c) // blocks until the client disconnects
	return nil
}

func (h *Hub) join(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.room] == nil {
		h.rooms[c.room] = make(map[string]*conn)
	}
	h.rooms[c.room][c.id] = c
}

func (h *Hub) leave(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[c.room]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.rooms, c.room)
		}
	}
}

// readLoop drains and discards client frames, keeping the connection
// alive for read-deadline purposes; the chat-bot's own protocol (if any)
// is out of scope here.
func (h *Hub) readLoop(c *conn) {
	defer func() {
		h.leave(c)
		h.closeConn(c)
	}()
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				h.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("chatbot marshal failed")
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = c.ws.Close() // unblocks readLoop's ReadMessage so it can run cleanup
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (h *Hub) closeConn(c *conn) {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.send)
		_ = c.ws.Close()
	}
}

// RoomCount returns the number of agent rooms with at least one connection.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ConnectionCount returns the total number of live connections across rooms.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.rooms {
		total += len(conns)
	}
	return total
}
