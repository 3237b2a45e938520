package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/crawlwatch/src/types"
)

// ErrMissingType is returned by Decode for payloads without a type field.
var ErrMissingType = errors.New("message has no type")

// Decode parses a raw text frame into a Message.
func Decode(data []byte) (types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return types.Message{}, ErrMissingType
	}
	return msg, nil
}

type handlerEntry struct {
	id string
	fn types.MessageHandler
}

func newHandlerID() string { return uuid.New().String() }

// AddMessageHandler registers h for every message queued after this call.
// Handlers are not deduplicated by identity: Go funcs are not comparable,
// so each registration is distinct and adding the same func twice delivers
// twice. Callers that need set semantics keep the returned func and call it
// before registering again. The returned func removes the registration and
// is safe to call more than once.
func (c *Channel) AddMessageHandler(h types.MessageHandler) func() {
	id := newHandlerID()
	c.mu.Lock()
	c.handlers = append(c.handlers, handlerEntry{id: id, fn: h})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.handlers = slices.DeleteFunc(c.handlers, func(e handlerEntry) bool { return e.id == id })
	}
}

// HandlerCount returns the number of registered message handlers.
func (c *Channel) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// handleFrame decodes a frame and queues it. A drain loop is started only
// when none is running; otherwise the running loop picks the message up.
func (c *Channel) handleFrame(gen uint64, data []byte) {
	c.observer.FrameReceived()

	msg, err := Decode(data)
	if err != nil {
		c.observer.DecodeFailed()
		c.logger.Warn().Err(err).Str("frame", truncate(data, 256)).Msg("dropping malformed frame")
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, msg)
	depth := len(c.queue)
	start := !c.draining
	if start {
		c.draining = true
	}
	c.mu.Unlock()

	c.observer.QueueDepth(depth)
	if start {
		go c.drain()
	}
}

// drain delivers queued messages one at a time, pausing DispatchInterval
// between messages, and exits when the queue is empty.
func (c *Channel) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue[0] = types.Message{}
		c.queue = c.queue[1:]
		depth := len(c.queue)
		last := msg
		c.lastMsg = &last
		handlers := slices.Clone(c.handlers)
		c.mu.Unlock()

		c.observer.QueueDepth(depth)
		for _, h := range handlers {
			c.invoke(h, msg)
		}
		c.observer.MessageDispatched()

		c.clock.Sleep(c.cfg.DispatchInterval)
	}
}

// invoke runs one handler, containing any panic it raises.
func (c *Channel) invoke(h handlerEntry, msg types.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.observer.HandlerPanicked()
			c.logger.Error().
				Str("handler_id", h.id).
				Str("type", string(msg.Type)).
				Interface("panic", r).
				Msg("error in message handler")
		}
	}()
	h.fn(msg)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
