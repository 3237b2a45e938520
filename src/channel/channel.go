// Package channel maintains the realtime update connection to the crawl
// service: it dials the push endpoint, queues decoded messages, dispatches
// them to subscribers in wire order and reconnects with exponential backoff
// after abnormal closures.
package channel

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/credentials"
	"github.com/orchestra-mcp/crawlwatch/src/transport"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/rs/zerolog"
)

// User-visible error strings reported through Err.
const (
	errConnection = "WebSocket connection error"
	errCreate     = "Failed to create WebSocket connection"
)

// Config controls the endpoint, retry budget and dispatch pacing.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	DispatchInterval     time.Duration
}

// DefaultConfig returns the local development endpoint with the standard
// retry budget (5 attempts, 1s doubling up to 30s) and a 10ms dispatch yield.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:8080/ws",
		MaxReconnectAttempts: 5,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		DispatchInterval:     10 * time.Millisecond,
	}
}

// Observer receives channel events, typically to feed metrics.
type Observer interface {
	FrameReceived()
	DecodeFailed()
	MessageDispatched()
	HandlerPanicked()
	ReconnectScheduled()
	StatusChanged(status types.ConnectionStatus)
	QueueDepth(n int)
}

type nopObserver struct{}

func (nopObserver) FrameReceived()                       {}
func (nopObserver) DecodeFailed()                        {}
func (nopObserver) MessageDispatched()                   {}
func (nopObserver) HandlerPanicked()                     {}
func (nopObserver) ReconnectScheduled()                  {}
func (nopObserver) StatusChanged(types.ConnectionStatus) {}
func (nopObserver) QueueDepth(int)                       {}

// Option customizes a Channel.
type Option func(*Channel)

// WithClock replaces the wall clock used for backoff timers and dispatch pacing.
func WithClock(clk Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(c *Channel) { c.observer = o }
}

// Channel owns one logical connection to the push endpoint. All state is
// guarded by mu; the dial, read and drain goroutines only mutate it while
// holding the lock.
type Channel struct {
	cfg      Config
	dialer   transport.Dialer
	tokens   credentials.Provider
	logger   zerolog.Logger
	clock    Clock
	observer Observer

	mu       sync.Mutex
	status   types.ConnectionStatus
	conn     transport.Conn
	gen      uint64 // bumped per dial and on Disconnect; stale events are dropped
	baseCtx  context.Context
	cancel   context.CancelFunc
	timer    Timer
	attempts int
	lastErr  string
	lastMsg  *types.Message

	queue    []types.Message
	draining bool
	handlers []handlerEntry

	statusSubs []statusEntry
}

// Snapshot is a point-in-time view of the channel for status reporting.
type Snapshot struct {
	Status            types.ConnectionStatus `json:"status"`
	Error             string                 `json:"error,omitempty"`
	ReconnectAttempts int                    `json:"reconnect_attempts"`
	MaxAttempts       int                    `json:"max_reconnect_attempts"`
	Pending           int                    `json:"pending"`
	Handlers          int                    `json:"handlers"`
	LastMessage       *types.Message         `json:"last_message,omitempty"`
}

// New creates a disconnected Channel. tokens may be nil when the endpoint
// needs no credential.
func New(cfg Config, dialer transport.Dialer, tokens credentials.Provider, logger zerolog.Logger, opts ...Option) *Channel {
	c := &Channel{
		cfg:      cfg,
		dialer:   dialer,
		tokens:   tokens,
		logger:   logger.With().Str("component", "realtime-channel").Logger(),
		clock:    realClock{},
		observer: nopObserver{},
		status:   types.Disconnected,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start is Connect under its lifecycle name.
func (c *Channel) Start(ctx context.Context) { c.Connect(ctx) }

// Stop is Disconnect under its lifecycle name.
func (c *Channel) Stop() { c.Disconnect() }

// Connect opens a connection unless one is already connecting or open.
// It returns immediately; the dial runs in the background. ctx bounds the
// dial and every reconnect that follows.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.status == types.Connecting || c.status == types.Connected {
		c.mu.Unlock()
		return
	}

	endpoint, err := transport.WithToken(c.cfg.URL, c.token())
	if err != nil {
		c.lastErr = errCreate
		notify := c.setStatus(types.Disconnected)
		c.mu.Unlock()
		notify()
		c.logger.Error().Err(err).Msg("error creating websocket connection")
		return
	}

	c.gen++
	gen := c.gen
	c.baseCtx = ctx
	if c.cancel != nil {
		c.cancel()
	}
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.lastErr = ""
	notify := c.setStatus(types.Connecting)
	c.mu.Unlock()
	notify()

	go c.dial(dialCtx, endpoint, gen)
}

// Disconnect cancels any pending reconnect, closes the connection with a
// normal closure, and drops queued messages and all message handlers.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.attempts = 0
	c.queue = nil
	c.handlers = nil
	notify := c.setStatus(types.Disconnected)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(transport.CloseNormalClosure, "Manual disconnect"); err != nil {
			c.logger.Debug().Err(err).Msg("close after disconnect")
		}
	}
	c.observer.QueueDepth(0)
	notify()
}

// SendMessage writes v as JSON when the connection is open. Otherwise the
// message is dropped with a warning; outbound messages are never queued.
// It reports whether the frame was written.
func (c *Channel) SendMessage(v any) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.status == types.Connected && conn != nil
	c.mu.Unlock()

	if !open {
		c.logger.Warn().Msg("websocket is not connected")
		return false
	}
	if err := conn.WriteJSON(v); err != nil {
		c.logger.Error().Err(err).Msg("websocket send failed")
		return false
	}
	return true
}

// Status returns the current connection status.
func (c *Channel) Status() types.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the last user-visible connection error, or "".
func (c *Channel) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ReconnectAttempts returns the number of reconnects scheduled since the
// last successful open.
func (c *Channel) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastMessage returns the most recently dispatched message.
func (c *Channel) LastMessage() (types.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastMsg == nil {
		return types.Message{}, false
	}
	return *c.lastMsg, true
}

// Snapshot returns the observable channel state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Status:            c.status,
		Error:             c.lastErr,
		ReconnectAttempts: c.attempts,
		MaxAttempts:       c.cfg.MaxReconnectAttempts,
		Pending:           len(c.queue),
		Handlers:          len(c.handlers),
	}
	if c.lastMsg != nil {
		m := *c.lastMsg
		s.LastMessage = &m
	}
	return s
}

// OnStatusChange registers fn for every status transition. Unlike message
// handlers these survive Disconnect. The returned func unregisters fn.
func (c *Channel) OnStatusChange(fn func(types.ConnectionStatus)) func() {
	id := newHandlerID()
	c.mu.Lock()
	c.statusSubs = append(c.statusSubs, statusEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.statusSubs = slices.DeleteFunc(c.statusSubs, func(e statusEntry) bool { return e.id == id })
	}
}

type statusEntry struct {
	id string
	fn func(types.ConnectionStatus)
}

// setStatus must be called with mu held. The returned func publishes the
// transition and must be called after mu is released.
func (c *Channel) setStatus(s types.ConnectionStatus) func() {
	if c.status == s {
		return func() {}
	}
	c.status = s
	subs := slices.Clone(c.statusSubs)
	return func() {
		c.observer.StatusChanged(s)
		for _, sub := range subs {
			sub.fn(s)
		}
	}
}

func (c *Channel) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Channel) dial(ctx context.Context, endpoint string, gen uint64) {
	c.logger.Debug().Str("endpoint", transport.Redact(endpoint)).Msg("dialing")

	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			c.dialCancelled(gen)
			return
		}
		c.logger.Error().Err(err).Msg("websocket dial failed")
		c.handleError(gen, errConnection)
		c.handleClose(gen, transport.CloseAbnormalClosure, err.Error())
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close(transport.CloseNormalClosure, "superseded")
		return
	}
	c.conn = conn
	c.attempts = 0
	c.lastErr = ""
	notify := c.setStatus(types.Connected)
	c.mu.Unlock()
	notify()

	c.logger.Info().Str("endpoint", transport.Redact(c.cfg.URL)).Msg("websocket connected")
	c.readLoop(conn, gen)
}

func (c *Channel) readLoop(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code, isClose := transport.CloseCode(err)
			if !isClose {
				c.handleError(gen, errConnection)
			}
			c.handleClose(gen, code, err.Error())
			reply := code
			if !isClose || !transport.Sendable(code) {
				reply = transport.CloseNormalClosure
			}
			_ = conn.Close(reply, "")
			return
		}
		c.handleFrame(gen, data)
	}
}

// dialCancelled settles a dial abandoned because its context ended. No
// reconnect follows; a later Connect with a live context starts over.
func (c *Channel) dialCancelled(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	notify := c.setStatus(types.Disconnected)
	c.mu.Unlock()
	notify()
	c.logger.Debug().Msg("dial cancelled")
}

// handleError records a transport error. The close path that follows
// decides whether to reconnect.
func (c *Channel) handleError(gen uint64, text string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastErr = text
	notify := c.setStatus(types.Disconnected)
	c.mu.Unlock()
	notify()
}
