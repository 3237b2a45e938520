package channel

import (
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/transport"
	"github.com/orchestra-mcp/crawlwatch/src/types"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnects and paces dispatch.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
func (realClock) Sleep(d time.Duration)                     { time.Sleep(d) }

// Backoff returns base * 2^attempt, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// handleClose runs after every connection end. A normal closure is
// terminal; anything else schedules a reconnect while budget remains.
func (c *Channel) handleClose(gen uint64, code int, reason string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	notify := c.setStatus(types.Disconnected)

	log := c.logger.With().Int("code", code).Str("reason", reason).Logger()

	if code == transport.CloseNormalClosure {
		c.mu.Unlock()
		notify()
		log.Info().Msg("websocket disconnected")
		return
	}

	if c.attempts >= c.cfg.MaxReconnectAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		notify()
		log.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted, staying disconnected")
		return
	}

	delay := Backoff(c.attempts, c.cfg.BaseDelay, c.cfg.MaxDelay)
	c.attempts++
	attempt := c.attempts
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	notify()
	c.observer.ReconnectScheduled()
	log.Warn().
		Dur("delay", delay).
		Int("attempt", attempt).
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Msg("websocket disconnected, reconnect scheduled")
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.baseCtx
	attempt := c.attempts
	c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	c.logger.Info().
		Int("attempt", attempt).
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Msg("attempting to reconnect")
	c.Connect(ctx)
}
