package tracker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
)

var errRefused = errors.New("connection refused")

type dialResult struct {
	conn *fakeConn
	err  error
}

type dialAttempt struct {
	url    string
	result chan dialResult
	d      *fakeDialer
}

// accept completes the handshake and returns the server side of the channel.
func (a *dialAttempt) accept() *fakeConn {
	c := &fakeConn{
		d:      a.d,
		frames: make(chan []byte, 16),
		drop:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	a.result <- dialResult{conn: c}
	return c
}

func (a *dialAttempt) fail(err error) {
	a.result <- dialResult{err: err}
}

// fakeDialer hands every Dial call to the test and counts open channels.
type fakeDialer struct {
	attempts chan *dialAttempt

	mu      sync.Mutex
	open    int
	maxOpen int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{attempts: make(chan *dialAttempt, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, _ http.Header) (Conn, error) {
	a := &dialAttempt{url: url, result: make(chan dialResult, 1), d: d}
	d.attempts <- a
	select {
	case r := <-a.result:
		if r.err != nil {
			return nil, r.err
		}
		d.mu.Lock()
		d.open++
		if d.open > d.maxOpen {
			d.maxOpen = d.open
		}
		d.mu.Unlock()
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *dialAttempt {
	t.Helper()
	select {
	case a := <-d.attempts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial attempt")
		return nil
	}
}

func (d *fakeDialer) expectNoAttempt(t *testing.T) {
	t.Helper()
	select {
	case a := <-d.attempts:
		t.Fatalf("unexpected dial attempt to %s", a.url)
	case <-time.After(100 * time.Millisecond):
	}
}

func (d *fakeDialer) counts() (open, maxOpen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open, d.maxOpen
}

type fakeConn struct {
	d      *fakeDialer
	frames chan []byte
	drop   chan error
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.frames:
		return websocket.TextMessage, f, nil
	case err := <-c.drop:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.d.mu.Lock()
		c.d.open--
		c.d.mu.Unlock()
	})
	return nil
}

func (c *fakeConn) send(frame string) { c.frames <- []byte(frame) }

// hangUp simulates the server dropping the connection.
func (c *fakeConn) hangUp() { c.drop <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure} }

// recordingClock is a mock clock that remembers every reconnect delay.
type recordingClock struct {
	*clock.Mock
	mu     sync.Mutex
	delays []time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{Mock: clock.NewMock()}
}

func (c *recordingClock) AfterFunc(d time.Duration, f func()) *clock.Timer {
	t := c.Mock.AfterFunc(d, f)
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	return t
}

func (c *recordingClock) scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// recorder collects callback invocations.
type recorder struct {
	mu          sync.Mutex
	events      []Event
	disconnects int
}

func (r *recorder) onEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) onDisconnect() {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]Event, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...), r.disconnects
}
