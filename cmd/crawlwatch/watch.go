package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/bridge"
	"github.com/orchestra-mcp/crawlwatch/src/channel"
	"github.com/orchestra-mcp/crawlwatch/src/hub"
	"github.com/orchestra-mcp/crawlwatch/src/metrics"
	"github.com/orchestra-mcp/crawlwatch/src/status"
	"github.com/orchestra-mcp/crawlwatch/src/tracker"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/urfave/cli/v3"
)

// Watch connects the realtime channel and prints every message until the
// context is cancelled. The tracker, status server and Redis relay hang off
// the same channel.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	logger := *r.logger
	m := metrics.New("crawlwatch")
	ch := channel.New(r.cfg.ChannelConfig(), r.dialer, r.tokens, logger, channel.WithObserver(m))

	tr := tracker.New(r.api, logger)
	if err := tr.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial url load failed, continuing with an empty table")
	}
	go tr.Run(ctx)

	jsonOut := cmd.Bool("json")
	ch.AddMessageHandler(func(msg types.Message) {
		var err error
		if jsonOut {
			err = r.writeJSON(msg, false)
		} else {
			err = r.writePlain("%s %s\n", time.Now().Format(time.TimeOnly), formatMessage(msg))
		}
		if err != nil {
			logger.Error().Err(err).Msg("print message")
		}
	})
	ch.AddMessageHandler(tr.Handle)
	ch.OnStatusChange(func(s types.ConnectionStatus) {
		logger.Info().Str("status", string(s)).Msg("connection status changed")
	})

	local := []types.MessageHandler{tr.Handle}

	addr := cmd.String("status-addr")
	if addr == "" {
		addr = r.cfg.StatusAddr
	}
	if addr != "" {
		h := hub.New(logger)
		go h.Run()
		defer h.Stop()
		ch.AddMessageHandler(h.Broadcast)
		local = append(local, h.Broadcast)

		srv := status.New(ch, tr, h, m.Handler(), logger)
		go func() {
			if err := srv.ListenAndServe(addr); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()
		defer srv.Shutdown() //nolint:errcheck
	}

	if cmd.Bool("redis") || r.cfg.Redis.Enabled {
		rb := bridge.NewRedisBridge(&r.cfg.Redis, func(msg types.Message) {
			for _, fn := range local {
				fn(msg)
			}
		}, logger)
		if err := rb.Start(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
			_ = rb.Stop()
		} else {
			defer func() {
				st := rb.Stats()
				logger.Info().Int64("published", st.Published).Int64("relayed", st.Relayed).Msg("redis bridge stopped")
				_ = rb.Stop()
			}()
			ch.AddMessageHandler(bridge.Forward(rb, func(err error) {
				logger.Error().Err(err).Msg("bridge publish failed")
			}))
		}
	}

	ch.Connect(ctx)
	<-ctx.Done()
	ch.Disconnect()

	stats := tr.Stats()
	logger.Info().
		Int("total", stats.Total).
		Int("completed", stats.Completed).
		Int("running", stats.Running).
		Int("error", stats.Error).
		Msg("watch stopped")
	return nil
}

var errNotConnected = errors.New("realtime connection not established")

// Send writes one JSON frame once the channel is connected.
func (r *Runner) Send(ctx context.Context, cmd *cli.Command) error {
	payload := cmd.StringArg("payload")
	if err := requireArg(payload, "payload"); err != nil {
		return err
	}
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON")
	}

	ch := channel.New(r.cfg.ChannelConfig(), r.dialer, r.tokens, *r.logger)
	connected := make(chan struct{}, 1)
	ch.OnStatusChange(func(s types.ConnectionStatus) {
		if s == types.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	ch.Connect(ctx)
	defer ch.Disconnect()

	timer := time.NewTimer(cmd.Duration("timeout"))
	defer timer.Stop()
	select {
	case <-connected:
	case <-timer.C:
		if e := ch.Err(); e != "" {
			return fmt.Errorf("%w: %s", errNotConnected, e)
		}
		return errNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}

	if !ch.SendMessage(json.RawMessage(payload)) {
		return fmt.Errorf("send failed: %s", ch.Err())
	}
	return r.writePlain("sent\n")
}
