package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/types"
)

// Command is an upstream control frame sent by a watcher.
type Command struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	URL    string `json:"url"`
}

// Client wraps a watcher connection and manages message flow.
type Client struct {
	ID          string
	conn        Conn
	hub         *Hub
	send        chan types.Message
	connectedAt time.Time
	dropped     atomic.Int64
	urls        map[string]bool
	filtered    bool // false means every URL
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a watcher that receives updates for urls, or for
// everything when urls is empty. A non-empty urls starts the client filtered.
func NewClient(id string, conn Conn, h *Hub, urls ...string) *Client {
	c := &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		send:        make(chan types.Message, 256),
		connectedAt: time.Now(),
		urls:        make(map[string]bool),
		done:        make(chan struct{}),
	}
	for _, u := range urls {
		c.urls[u] = true
	}
	c.filtered = len(urls) > 0
	return c
}

// Info returns metadata about this client.
func (c *Client) Info() ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	urls := make([]string, 0, len(c.urls))
	for u := range c.urls {
		urls = append(urls, u)
	}
	return ClientInfo{
		ID:          c.ID,
		ConnectedAt: c.connectedAt,
		URLs:        urls,
		Dropped:     c.dropped.Load(),
	}
}

// Wants reports whether messages about rawURL pass the client's filter.
// Messages without a URL always pass.
func (c *Client) Wants(rawURL string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.filtered || rawURL == "" || c.urls[rawURL]
}

// Subscribe adds rawURL to the filter. The first subscription on an
// unfiltered client narrows its feed to that URL.
func (c *Client) Subscribe(rawURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[rawURL] = true
	c.filtered = true
}

// Unsubscribe removes rawURL from the filter. A filtered client that drops
// its last URL receives only messages without a URL; it never reverts to
// the full feed.
func (c *Client) Unsubscribe(rawURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.urls, rawURL)
}

// ReadPump applies control frames until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			return
		}
		if cmd.URL == "" {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.URL)
		case "unsubscribe":
			c.Unsubscribe(cmd.URL)
		default:
			c.hub.logger.Debug().Str("client_id", c.ID).Str("action", cmd.Action).Msg("unknown command")
		}
	}
}

// offer queues msg without blocking. A full buffer drops the message and
// counts it against the client.
func (c *Client) offer(msg types.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// WritePump writes queued messages to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.send)
	}
}
