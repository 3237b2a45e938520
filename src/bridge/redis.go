package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const publishTimeout = 2 * time.Second

// envelope tags a relayed message with the instance that saw it first, so
// the publisher can drop its own echo.
type envelope struct {
	InstanceID  string        `json:"instance_id"`
	PublishedAt time.Time     `json:"published_at"`
	Message     types.Message `json:"message"`
}

// Stats counts relay traffic.
type Stats struct {
	Published int64 `json:"published"`
	Relayed   int64 `json:"relayed"`
	Dropped   int64 `json:"dropped"`
}

// RedisBridge shares crawl updates between watcher processes over one
// Redis pub/sub channel.
type RedisBridge struct {
	client     *redis.Client
	topic      string
	instanceID string
	deliver    types.MessageHandler
	logger     zerolog.Logger

	published atomic.Int64
	relayed   atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active bool
}

// NewRedisBridge creates a relay that hands messages from other instances
// to deliver. deliver may be nil for publish-only use.
func NewRedisBridge(cfg *RedisConfig, deliver types.MessageHandler, logger zerolog.Logger) *RedisBridge {
	return &RedisBridge{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		topic:      cfg.Prefix + "updates",
		instanceID: uuid.New().String(),
		deliver:    deliver,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
		ctx:        context.Background(),
	}
}

// InstanceID identifies this process in relayed envelopes.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start checks connectivity and subscribes. Relaying stops when ctx is
// done or Stop is called.
func (b *RedisBridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := b.client.Ping(ctx).Err(); err != nil {
		cancel()
		return fmt.Errorf("redis ping: %w", err)
	}
	sub := b.client.Subscribe(ctx, b.topic)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("redis subscribe %s: %w", b.topic, err)
	}

	b.mu.Lock()
	b.ctx, b.cancel, b.active = ctx, cancel, true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(ctx, sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("topic", b.topic).
		Msg("redis bridge started")
	return nil
}

// Publish sends msg to every other instance.
func (b *RedisBridge) Publish(msg types.Message) error {
	data, err := b.encode(msg)
	if err != nil {
		return err
	}
	b.mu.RLock()
	parent := b.ctx
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	b.published.Add(1)
	return nil
}

func (b *RedisBridge) encode(msg types.Message) ([]byte, error) {
	return json.Marshal(envelope{
		InstanceID:  b.instanceID,
		PublishedAt: time.Now().UTC(),
		Message:     msg,
	})
}

// Stop ends the subscription and closes the client.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	b.active = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the subscription is live.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// Stats returns the relay counters.
func (b *RedisBridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Relayed:   b.relayed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *RedisBridge) listen(ctx context.Context, sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				b.mu.Lock()
				b.active = false
				b.mu.Unlock()
				return
			}
			b.receive(m.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// receive delivers payloads published by other instances.
func (b *RedisBridge) receive(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.dropped.Add(1)
		b.logger.Warn().Err(err).Msg("dropping undecodable relay payload")
		return
	}
	if env.InstanceID == b.instanceID || b.deliver == nil {
		return
	}

	b.relayed.Add(1)
	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("type", string(env.Message.Type)).
		Str("url", env.Message.URL).
		Dur("lag", time.Since(env.PublishedAt)).
		Msg("relaying message")
	b.deliver(env.Message)
}
