// Package hub fans crawl messages out to local WebSocket watchers, such as
// dashboard tabs attached to the status server.
package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/rs/zerolog"
)

// Conn is the downstream connection a Client writes to.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// ClientInfo describes a connected watcher.
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	URLs        []string  `json:"urls,omitempty"`
	Dropped     int64     `json:"dropped"`
}

// Hub manages watcher connections and their URL filters.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan types.Message

	onConnect []func(string)
	onDisconn []func(string)

	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	once   sync.Once
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan types.Message, 256),
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the event loop and disconnects every watcher.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Register queues a client for registration.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.conn.Close()
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for every watcher whose filter accepts it. It has the
// types.MessageHandler signature so it can be registered on the channel.
func (h *Hub) Broadcast(msg types.Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("broadcast queue full, dropping")
	}
}

// OnConnect registers a callback fired after a watcher registers.
func (h *Hub) OnConnect(fn func(clientID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// OnDisconnect registers a callback fired after a watcher leaves.
func (h *Hub) OnDisconnect(fn func(clientID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconn = append(h.onDisconn, fn)
}

// ClientCount returns the number of connected watchers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ConnectedClients returns info for all connected watchers.
func (h *Hub) ConnectedClients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.Info())
	}
	return out
}

// ClientInfo returns info for one watcher, or nil if not connected.
func (h *Hub) ClientInfo(id string) *ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return nil
	}
	info := c.Info()
	return &info
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	callbacks := h.onConnect
	h.mu.Unlock()

	h.logger.Info().Str("client_id", c.ID).Msg("client registered")

	for _, cb := range callbacks {
		cb(c.ID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	callbacks := h.onDisconn
	h.mu.Unlock()

	c.Close()
	h.logger.Info().Str("client_id", c.ID).Msg("client unregistered")

	for _, cb := range callbacks {
		cb(c.ID)
	}
}

// fanOut runs on the event loop, so no client is closed mid-send.
func (h *Hub) fanOut(msg types.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, client := range h.clients {
		if !client.Wants(msg.URL) {
			continue
		}
		if !client.offer(msg) {
			h.logger.Warn().Str("client_id", id).Str("url", msg.URL).Msg("watcher too slow, message dropped")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
