package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orchestra-mcp/crawlwatch/src/credentials"
	"github.com/orchestra-mcp/crawlwatch/src/transport"
	"github.com/orchestra-mcp/crawlwatch/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

// fakeConn implements transport.Conn with a scripted inbound stream.
type fakeConn struct {
	frames chan frame
	done   chan struct{}

	mu          sync.Mutex
	written     []any
	closed      bool
	closeCode   int
	closeReason string
}

type frame struct {
	data []byte
	err  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan frame, 1024),
		done:   make(chan struct{}),
	}
}

func (f *fakeConn) push(s string)      { f.frames <- frame{data: []byte(s)} }
func (f *fakeConn) closeWith(code int) { f.frames <- frame{err: &transport.CloseError{Code: code}} }
func (f *fakeConn) fail(err error)     { f.frames <- frame{err: err} }

func (f *fakeConn) isClosed() (bool, int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode, f.closeReason
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case fr := <-f.frames:
		return fr.data, fr.err
	case <-f.done:
		return nil, errors.New("use of closed network connection")
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.closeCode = code
	f.closeReason = reason
	close(f.done)
	return nil
}

func (f *fakeConn) getWritten() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]any, len(f.written))
	copy(cp, f.written)
	return cp
}

// fakeDialer hands out queued connections in order and fails once empty.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	endpoints []string
	ctxs      []context.Context
}

func (d *fakeDialer) add(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	d.ctxs = append(d.ctxs, ctx)
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) dialCtx(i int) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctxs[i]
}

// blockingDialer holds every dial open until its context ends.
type blockingDialer struct {
	entered chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	d.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeClock records timers instead of running them; tests fire them by hand.
// Sleeps are recorded too. When gate is set each Sleep blocks until the test
// sends on it.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	sleeps []time.Duration
	gate   chan struct{}
}

type fakeTimer struct {
	clk     *fakeClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clk: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.delay)
	}
	return out
}

// fireNext runs the oldest pending timer. It reports false when none is pending.
func (c *fakeClock) fireNext() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	c.mu.Unlock()
	next.fn()
	return true
}

type recorder struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (r *recorder) handle(m types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) got() []types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]types.Message, len(r.msgs))
	copy(cp, r.msgs)
	return cp
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestChannel(t *testing.T, d *fakeDialer, clk *fakeClock, tokens credentials.Provider) *Channel {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = "ws://crawler.test/ws"
	ch := New(cfg, d, tokens, zerolog.Nop(), WithClock(clk))
	t.Cleanup(ch.Disconnect)
	return ch
}

func connected(t *testing.T, ch *Channel) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.Status() == types.Connected }, waitFor, tick)
}

func TestConnectAppendsToken(t *testing.T) {
	d := &fakeDialer{}
	d.add(newFakeConn())
	ch := newTestChannel(t, d, &fakeClock{}, credentials.NewMemory("abc"))

	ch.Connect(context.Background())
	connected(t, ch)

	require.Equal(t, 1, d.dials())
	assert.Equal(t, "ws://crawler.test/ws?token=abc", d.endpoints[0])
	assert.Equal(t, 0, ch.ReconnectAttempts())
	assert.Empty(t, ch.Err())
}

func TestConnectWithoutToken(t *testing.T) {
	d := &fakeDialer{}
	d.add(newFakeConn())
	ch := newTestChannel(t, d, &fakeClock{}, credentials.NewMemory(""))

	ch.Start(context.Background())
	connected(t, ch)
	assert.Equal(t, "ws://crawler.test/ws", d.endpoints[0])
}

func TestConnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	d.add(newFakeConn())
	d.add(newFakeConn())
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	ch.Connect(context.Background())
	ch.Connect(context.Background())
	connected(t, ch)
	ch.Connect(context.Background())

	assert.Never(t, func() bool { return d.dials() > 1 }, 50*time.Millisecond, tick)
}

func TestMessagesDeliveredInOrderToAllHandlers(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	a, b := &recorder{}, &recorder{}
	ch.AddMessageHandler(a.handle)
	ch.AddMessageHandler(b.handle)

	ch.Connect(context.Background())
	connected(t, ch)

	const n = 200
	for i := 0; i < n; i++ {
		conn.push(fmt.Sprintf(`{"type":"progress","message":"%d"}`, i))
	}

	for _, r := range []*recorder{a, b} {
		require.Eventually(t, func() bool { return r.len() == n }, waitFor, tick)
		for i, m := range r.got() {
			assert.Equal(t, fmt.Sprint(i), m.Message)
		}
	}
	assert.Never(t, func() bool { return a.len() > n }, 30*time.Millisecond, tick)
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	r := &recorder{}
	ch.AddMessageHandler(r.handle)
	ch.Connect(context.Background())
	connected(t, ch)

	conn.push(`{"type":"crawl_started","url":"https://one.test"}`)
	conn.push(`{not json`)
	conn.push(`{"url":"https://typeless.test"}`)
	conn.push(`{"type":"crawl_completed","url":"https://two.test"}`)

	require.Eventually(t, func() bool { return r.len() == 2 }, waitFor, tick)
	got := r.got()
	assert.Equal(t, "https://one.test", got[0].URL)
	assert.Equal(t, "https://two.test", got[1].URL)
	assert.Equal(t, types.Connected, ch.Status())
}

func TestDispatchPacingIsSingleFlight(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	gate := make(chan struct{})
	clk := &fakeClock{gate: gate}
	ch := newTestChannel(t, d, clk, nil)
	t.Cleanup(func() { close(gate) })

	var active, overlaps atomic.Int32
	r := &recorder{}
	ch.AddMessageHandler(func(m types.Message) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		r.handle(m)
		active.Add(-1)
	})
	ch.Connect(context.Background())
	connected(t, ch)

	conn.push(`{"type":"progress","message":"0"}`)
	require.Eventually(t, func() bool { return r.len() == 1 && len(clk.slept()) == 1 }, waitFor, tick)

	// The drain is paused; new frames queue behind it instead of starting
	// another loop.
	conn.push(`{"type":"progress","message":"1"}`)
	conn.push(`{"type":"progress","message":"2"}`)
	require.Eventually(t, func() bool { return ch.Snapshot().Pending == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return r.len() > 1 }, 30*time.Millisecond, tick)

	for want := 2; want <= 3; want++ {
		gate <- struct{}{}
		require.Eventually(t, func() bool { return r.len() == want && len(clk.slept()) == want }, waitFor, tick)
		assert.Equal(t, 3-want, ch.Snapshot().Pending)
	}
	gate <- struct{}{}

	// A frame after the backlog is delivered and paced like the rest.
	conn.push(`{"type":"progress","message":"3"}`)
	require.Eventually(t, func() bool { return r.len() == 4 && len(clk.slept()) == 4 }, waitFor, tick)

	for i, m := range r.got() {
		assert.Equal(t, fmt.Sprint(i), m.Message)
	}
	for _, pause := range clk.slept() {
		assert.Equal(t, 10*time.Millisecond, pause)
	}
	assert.Zero(t, overlaps.Load())
}

func TestLateHandlerGetsNoReplay(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	first := &recorder{}
	ch.AddMessageHandler(first.handle)
	ch.Connect(context.Background())
	connected(t, ch)

	conn.push(`{"type":"progress","message":"before"}`)
	require.Eventually(t, func() bool { return first.len() == 1 }, waitFor, tick)

	late := &recorder{}
	ch.AddMessageHandler(late.handle)
	conn.push(`{"type":"progress","message":"after"}`)

	require.Eventually(t, func() bool { return first.len() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return late.len() == 1 }, waitFor, tick)
	assert.Equal(t, "after", late.got()[0].Message)
}

func TestUnregisterHandler(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	r := &recorder{}
	off := ch.AddMessageHandler(r.handle)
	assert.Equal(t, 1, ch.HandlerCount())
	off()
	off()
	assert.Equal(t, 0, ch.HandlerCount())

	ch.Connect(context.Background())
	connected(t, ch)
	conn.push(`{"type":"progress"}`)
	require.Eventually(t, func() bool { _, ok := ch.LastMessage(); return ok }, waitFor, tick)
	assert.Equal(t, 0, r.len())
}

func TestPanickingHandlerDoesNotStarveOthers(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	ch.AddMessageHandler(func(types.Message) { panic("boom") })
	good := &recorder{}
	ch.AddMessageHandler(good.handle)

	ch.Connect(context.Background())
	connected(t, ch)
	for i := 0; i < 10; i++ {
		conn.push(`{"type":"status_update","status":"running"}`)
	}

	require.Eventually(t, func() bool { return good.len() == 10 }, waitFor, tick)
	assert.Equal(t, types.Connected, ch.Status())
}

func TestStatusUpdateScenario(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	r := &recorder{}
	ch.AddMessageHandler(r.handle)
	ch.Connect(context.Background())
	connected(t, ch)

	conn.push(`{"type":"status_update","url":"https://a.test","status":"completed"}`)

	want := types.Message{Type: types.TypeStatusUpdate, URL: "https://a.test", Status: types.StatusCompleted}
	require.Eventually(t, func() bool { return r.len() == 1 }, waitFor, tick)
	assert.Equal(t, want, r.got()[0])

	last, ok := ch.LastMessage()
	require.True(t, ok)
	assert.Equal(t, want, last)
	assert.Never(t, func() bool { return r.len() > 1 }, 30*time.Millisecond, tick)
}

func TestBackoffScheduleUntilExhausted(t *testing.T) {
	d := &fakeDialer{}
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	ch.Connect(context.Background())
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return clk.count() == i+1 }, waitFor, tick)
		assert.Equal(t, i+1, ch.ReconnectAttempts())
		require.True(t, clk.fireNext())
	}

	require.Eventually(t, func() bool { return d.dials() == 6 && ch.Status() == types.Disconnected }, waitFor, tick)
	assert.Never(t, func() bool { return clk.count() > 5 }, 50*time.Millisecond, tick)

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, clk.delays())
	assert.Equal(t, 5, ch.ReconnectAttempts())
	assert.Equal(t, types.Disconnected, ch.Status())
	assert.Equal(t, errConnection, ch.Err())
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{64, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Backoff(tc.attempt, time.Second, 30*time.Second), "attempt %d", tc.attempt)
	}
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	ch.Connect(context.Background())
	connected(t, ch)
	conn.closeWith(transport.CloseNormalClosure)

	require.Eventually(t, func() bool { return ch.Status() == types.Disconnected }, waitFor, tick)
	assert.Never(t, func() bool { return clk.count() > 0 }, 50*time.Millisecond, tick)
	assert.Empty(t, ch.Err())
}

func TestAbnormalClosureReconnects(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	ch.Connect(context.Background())
	connected(t, ch)
	conn.fail(errors.New("connection reset by peer"))

	require.Eventually(t, func() bool { return clk.count() == 1 }, waitFor, tick)
	assert.Equal(t, errConnection, ch.Err())
	assert.Equal(t, types.Disconnected, ch.Status())
	assert.Equal(t, []time.Duration{time.Second}, clk.delays())

	// 1006 is never written to the wire; the local side closes normally.
	closed, code, _ := conn.isClosed()
	assert.True(t, closed)
	assert.Equal(t, transport.CloseNormalClosure, code)
}

func TestPeerCloseCodeIsEchoed(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	ch.Connect(context.Background())
	connected(t, ch)
	conn.closeWith(1001)

	require.Eventually(t, func() bool { closed, _, _ := conn.isClosed(); return closed }, waitFor, tick)
	_, code, _ := conn.isClosed()
	assert.Equal(t, 1001, code)
}

func TestCancelledDialSettlesDisconnected(t *testing.T) {
	d := &blockingDialer{entered: make(chan struct{}, 2)}
	clk := &fakeClock{}
	cfg := DefaultConfig()
	cfg.URL = "ws://crawler.test/ws"
	ch := New(cfg, d, nil, zerolog.Nop(), WithClock(clk))
	t.Cleanup(ch.Disconnect)

	ctx, cancel := context.WithCancel(context.Background())
	ch.Connect(ctx)
	<-d.entered
	assert.Equal(t, types.Connecting, ch.Status())

	cancel()
	require.Eventually(t, func() bool { return ch.Status() == types.Disconnected }, waitFor, tick)
	assert.Never(t, func() bool { return clk.count() > 0 }, 30*time.Millisecond, tick)
	assert.Equal(t, 0, ch.ReconnectAttempts())

	// A fresh context starts a new dial instead of hitting the connecting guard.
	ch.Connect(context.Background())
	select {
	case <-d.entered:
	case <-time.After(waitFor):
		t.Fatal("second Connect did not dial")
	}
	assert.Equal(t, types.Connecting, ch.Status())
}

func TestReconnectReleasesPreviousDialContext(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{}
	d.add(first)
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	ch.Connect(context.Background())
	connected(t, ch)
	assert.NoError(t, d.dialCtx(0).Err())

	first.closeWith(transport.CloseAbnormalClosure)
	require.Eventually(t, func() bool { return clk.count() == 1 }, waitFor, tick)
	d.add(newFakeConn())
	require.True(t, clk.fireNext())
	connected(t, ch)

	assert.ErrorIs(t, d.dialCtx(0).Err(), context.Canceled)
	assert.NoError(t, d.dialCtx(1).Err())
}

func TestReconnectCounterResetsAfterEachSuccess(t *testing.T) {
	first := newFakeConn()
	d := &fakeDialer{}
	d.add(first)
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	ch.Connect(context.Background())
	connected(t, ch)

	current := first
	for i := 0; i < 4; i++ {
		current.closeWith(transport.CloseAbnormalClosure)
		require.Eventually(t, func() bool { return clk.count() == i+1 }, waitFor, tick)
		assert.Equal(t, 1, ch.ReconnectAttempts())

		next := newFakeConn()
		d.add(next)
		require.True(t, clk.fireNext())
		require.Eventually(t, func() bool {
			return ch.Status() == types.Connected && ch.ReconnectAttempts() == 0
		}, waitFor, tick)
		current = next
	}

	for _, delay := range clk.delays() {
		assert.Equal(t, time.Second, delay)
	}
	assert.Equal(t, 5, d.dials())
}

func TestDisconnectClosesNormallyAndClearsHandlers(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	r := &recorder{}
	ch.AddMessageHandler(r.handle)
	ch.Connect(context.Background())
	connected(t, ch)

	ch.Disconnect()

	closed, code, reason := conn.isClosed()
	assert.True(t, closed)
	assert.Equal(t, transport.CloseNormalClosure, code)
	assert.Equal(t, "Manual disconnect", reason)
	assert.Equal(t, types.Disconnected, ch.Status())
	assert.Equal(t, 0, ch.HandlerCount())
	assert.Never(t, func() bool { return clk.count() > 0 }, 50*time.Millisecond, tick)

	// The channel can be started again afterwards.
	d.add(newFakeConn())
	ch.Connect(context.Background())
	connected(t, ch)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	clk := &fakeClock{}
	ch := newTestChannel(t, d, clk, nil)

	ch.Connect(context.Background())
	connected(t, ch)
	conn.closeWith(transport.CloseAbnormalClosure)
	require.Eventually(t, func() bool { return clk.count() == 1 }, waitFor, tick)

	ch.Disconnect()
	assert.False(t, clk.fireNext())
	assert.Equal(t, 1, d.dials())
	assert.Equal(t, 0, ch.ReconnectAttempts())
}

func TestSendMessage(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	assert.NotPanics(t, func() {
		assert.False(t, ch.SendMessage(map[string]string{"type": "ping"}))
	})

	ch.Connect(context.Background())
	connected(t, ch)
	assert.True(t, ch.SendMessage(map[string]string{"type": "ping"}))
	assert.Len(t, conn.getWritten(), 1)

	ch.Disconnect()
	assert.False(t, ch.SendMessage(map[string]string{"type": "dropped"}))

	// Dropped messages are not replayed on the next connection.
	next := newFakeConn()
	d.add(next)
	ch.Connect(context.Background())
	connected(t, ch)
	assert.Empty(t, next.getWritten())
	assert.Len(t, conn.getWritten(), 1)
}

func TestStatusSubscribers(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)

	var mu sync.Mutex
	var seen []types.ConnectionStatus
	off := ch.OnStatusChange(func(s types.ConnectionStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	ch.Connect(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitFor, tick)
	ch.Disconnect()
	off()
	ch.Connect(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []types.ConnectionStatus{types.Connecting, types.Connected, types.Disconnected}, seen)
}

func TestSnapshot(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{}
	d.add(conn)
	ch := newTestChannel(t, d, &fakeClock{}, nil)
	ch.AddMessageHandler(func(types.Message) {})

	ch.Connect(context.Background())
	connected(t, ch)
	conn.push(`{"type":"crawl_started","url":"https://s.test"}`)
	require.Eventually(t, func() bool { return ch.Snapshot().LastMessage != nil }, waitFor, tick)

	s := ch.Snapshot()
	assert.Equal(t, types.Connected, s.Status)
	assert.Equal(t, 1, s.Handlers)
	assert.Equal(t, 5, s.MaxAttempts)
	assert.Equal(t, "https://s.test", s.LastMessage.URL)
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"progress","url":"u","progress":42.5,"data":{"title":"T","internalLinks":3}}`))
	require.NoError(t, err)
	assert.Equal(t, types.TypeProgress, msg.Type)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, 42.5, *msg.Progress)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "T", *msg.Data.Title)
	assert.Equal(t, 3, *msg.Data.InternalLinks)

	_, err = Decode([]byte(`null`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`[1,2]`))
	assert.Error(t, err)

	// Unknown types pass through untouched.
	msg, err = Decode([]byte(`{"type":"crawl_error","error":"timeout"}`))
	require.NoError(t, err)
	assert.Equal(t, types.MessageType("crawl_error"), msg.Type)
}
