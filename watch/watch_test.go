package watch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"meatmarket/protocol"
	"meatmarket/tracker"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

// refusingDialer never connects.
type refusingDialer struct{}

func (refusingDialer) Dial(context.Context, string, http.Header) (tracker.Conn, error) {
	return nil, errors.New("connection refused")
}

// pipeDialer hands out one conn per Dial, fed by the test.
type pipeDialer struct {
	conns chan *pipeConn
}

func (d *pipeDialer) Dial(ctx context.Context, _ string, _ http.Header) (tracker.Conn, error) {
	c := &pipeConn{frames: make(chan []byte, 8), drop: make(chan struct{}), closed: make(chan struct{})}
	select {
	case d.conns <- c:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pipeConn struct {
	frames chan []byte
	drop   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case <-c.drop:
		return 0, nil, errors.New("connection reset")
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeFetcher returns queued orders; the last one repeats.
type fakeFetcher struct {
	mu     sync.Mutex
	orders []protocol.Order
	calls  int
	gate   chan struct{}
}

func (f *fakeFetcher) GetOrder(ctx context.Context, id protocol.OrderID) (protocol.Order, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return protocol.Order{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.orders) == 0 {
		return protocol.Order{}, errors.New("not found")
	}
	o := f.orders[0]
	if len(f.orders) > 1 {
		f.orders = f.orders[1:]
	}
	return o, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestFallsBackToPollingWhenExhausted(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	clk := clock.NewMock()
	fetch := &fakeFetcher{orders: []protocol.Order{
		{ID: "42", Status: protocol.StageCutting, Seq: 2},
		{ID: "42", Status: protocol.StageCutting, Seq: 2},
		{ID: "42", Status: protocol.StagePacking, Seq: 3},
		{ID: "42", Status: protocol.StageDelivered, Seq: 5},
	}}

	var mu sync.Mutex
	var updates []View
	w := New("42", Config{
		Tracker:      tracker.Config{BaseURL: "ws://push.test", MaxRetries: 1, RetryStep: time.Millisecond},
		PollInterval: 10 * time.Second,
	}, fetch,
		WithClock(clk),
		WithTrackerOptions(tracker.WithDialer(refusingDialer{})),
		WithOnUpdate(func(v View) {
			mu.Lock()
			updates = append(updates, v)
			mu.Unlock()
		}),
	)
	defer w.Close()

	// initial fetch plus the immediate poll
	require.Eventually(t, func() bool {
		v := w.View()
		return v.Exhausted && v.Polling && fetch.callCount() == 2
	}, wait, tick)
	assert.False(t, w.View().Live)
	assert.Equal(t, SourcePoll, w.View().Source)

	clk.Add(10 * time.Second)
	require.Eventually(t, func() bool { return w.View().Order.Status == protocol.StagePacking }, wait, tick)

	clk.Add(10 * time.Second)
	require.Eventually(t, func() bool { return w.View().Order.Status == protocol.StageDelivered }, wait, tick)
	// delivered is terminal, polling stops
	require.Eventually(t, func() bool { return !w.View().Polling }, wait, tick)
	clk.Add(time.Minute)
	assert.Equal(t, 4, fetch.callCount())

	mu.Lock()
	defer mu.Unlock()
	for _, v := range updates {
		assert.False(t, v.Live, "never shown live without a channel")
	}
}

func TestStaleFetchDoesNotOverwritePush(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	gate := make(chan struct{})
	fetch := &fakeFetcher{gate: gate, orders: []protocol.Order{
		{ID: "42", Status: protocol.StageConfirmed, Seq: 3},
	}}
	d := &pipeDialer{conns: make(chan *pipeConn, 1)}

	w := New("42", Config{Tracker: tracker.Config{BaseURL: "ws://push.test"}}, fetch,
		WithTrackerOptions(tracker.WithDialer(d)))
	defer w.Close()

	conn := <-d.conns
	require.Eventually(t, func() bool { return w.View().Live }, wait, tick)

	conn.frames <- []byte(`{"type":"status_change","data":{"id":42,"status":"PACKING","seq":5}}`)
	require.Eventually(t, func() bool { return w.View().HasOrder }, wait, tick)

	close(gate)
	require.Eventually(t, func() bool { return fetch.callCount() == 1 }, wait, tick)
	time.Sleep(20 * time.Millisecond)

	v := w.View()
	assert.Equal(t, protocol.StagePacking, v.Order.Status)
	assert.Equal(t, int64(5), v.Order.Seq)
	assert.Equal(t, SourcePush, v.Source)
}

func TestLiveMirrorsConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	clk := clock.NewMock()
	fetch := &fakeFetcher{}
	d := &pipeDialer{conns: make(chan *pipeConn, 1)}

	w := New("7", Config{Tracker: tracker.Config{BaseURL: "ws://push.test"}}, fetch,
		WithTrackerOptions(tracker.WithDialer(d), tracker.WithClock(clk)))
	defer w.Close()

	conn := <-d.conns
	require.Eventually(t, func() bool { return w.View().Live }, wait, tick)

	close(conn.drop)
	require.Eventually(t, func() bool { return !w.View().Live }, wait, tick)
	assert.False(t, w.View().Exhausted)
	assert.False(t, w.View().Polling)
}

func TestReconnectAfterExhaustion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	clk := clock.NewMock()
	fetch := &fakeFetcher{orders: []protocol.Order{{ID: "9", Status: protocol.StagePending, Seq: 1}}}
	d := &switchDialer{}

	w := New("9", Config{
		Tracker:      tracker.Config{BaseURL: "ws://push.test", MaxRetries: 1, RetryStep: time.Millisecond},
		PollInterval: time.Second,
	}, fetch, WithClock(clk), WithTrackerOptions(tracker.WithDialer(d)))
	defer w.Close()

	require.Eventually(t, func() bool { return w.View().Polling }, wait, tick)

	d.allow()
	w.Reconnect()
	require.Eventually(t, func() bool { return w.View().Live }, wait, tick)

	clk.Add(time.Second)
	require.Eventually(t, func() bool { return !w.View().Polling }, wait, tick)
}

// switchDialer refuses until allow is called, then hands out idle conns.
type switchDialer struct {
	mu sync.Mutex
	ok bool
}

func (d *switchDialer) allow() {
	d.mu.Lock()
	d.ok = true
	d.mu.Unlock()
}

func (d *switchDialer) Dial(context.Context, string, http.Header) (tracker.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ok {
		return nil, errors.New("connection refused")
	}
	return &pipeConn{frames: make(chan []byte), drop: make(chan struct{}), closed: make(chan struct{})}, nil
}
