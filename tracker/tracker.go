// Package tracker keeps a live channel open to the push service for one
// order, exposing connectivity and the latest status event, and reconnects
// after drops with linear backoff up to a fixed number of attempts.
//
// All channel activity is handled on a single goroutine per Tracker. Update
// and Close block until that goroutine has applied them, so once Close
// returns no callback will fire again. Callbacks run on that goroutine and
// must not call Update or Close.
package tracker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"meatmarket/protocol"
)

const (
	DefaultMaxRetries = 5
	DefaultRetryStep  = time.Second
)

// Event is a decoded status frame from the order channel.
type Event = protocol.StatusEvent

// Config controls where and how persistently a Tracker connects.
type Config struct {
	// BaseURL is the push service root, e.g. wss://push.example.com.
	BaseURL string
	// MaxRetries is the number of consecutive reconnects before giving up.
	MaxRetries int
	// RetryStep is multiplied by the attempt number to get the delay.
	RetryStep time.Duration
	// Header is sent with every handshake (typically Authorization).
	Header http.Header
	// HandshakeTimeout bounds each dial; a timed out dial counts as a failed
	// open. Zero leaves it to the dialer.
	HandshakeTimeout time.Duration
}

// State is a snapshot of a tracker's observable state.
type State struct {
	OrderID   string
	Enabled   bool
	Connected bool
	Latest    *Event
	Retries   int
	Exhausted bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option { return func(t *Tracker) { t.dialer = d } }

// WithClock replaces the clock used for reconnect delays.
func WithClock(c clock.Clock) Option { return func(t *Tracker) { t.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.log = l } }

// WithOnEvent registers the callback invoked for every valid event, in
// channel order.
func WithOnEvent(fn func(Event)) Option { return func(t *Tracker) { t.onEvent = fn } }

// WithOnConnect registers the callback invoked each time the channel opens.
func WithOnConnect(fn func()) Option { return func(t *Tracker) { t.onConnect = fn } }

// WithOnDisconnect registers the callback invoked whenever the channel closes
// or fails to open, except on Close or Update.
func WithOnDisconnect(fn func()) Option { return func(t *Tracker) { t.onDisconnect = fn } }

type signalKind int

const (
	sigOpened signalKind = iota
	sigFailed
	sigMessage
	sigClosed
	sigRetry
)

type signal struct {
	kind signalKind
	gen  uint64
	conn Conn
	data []byte
	err  error
}

type request struct {
	orderID string
	enabled bool
	stop    bool
	done    chan struct{}
}

// Tracker is the subscription for one order at a time.
type Tracker struct {
	cfg          Config
	dialer       Dialer
	clock        clock.Clock
	log          *zap.Logger
	onEvent      func(Event)
	onConnect    func()
	onDisconnect func()

	requests chan request
	signals  chan signal
	done     chan struct{}
	helpers  sync.WaitGroup

	mu    sync.RWMutex
	state State

	// owned by run
	gen        uint64
	conn       Conn
	cancelDial context.CancelFunc
	timer      *clock.Timer
	orderID    string
	enabled    bool
	connected  bool
	retries    int
	exhausted  bool
	latest     *Event
}

// New creates an idle tracker. Call Update to start following an order.
func New(cfg Config, opts ...Option) *Tracker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryStep <= 0 {
		cfg.RetryStep = DefaultRetryStep
	}
	t := &Tracker{
		cfg:      cfg,
		dialer:   WSDialer{},
		clock:    clock.New(),
		log:      zap.NewNop(),
		requests: make(chan request),
		signals:  make(chan signal),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Named("tracker")
	go t.run()
	return t
}

// Update points the tracker at orderID. Any change of order or enabled flag
// tears down the current channel and pending reconnect, then opens a fresh
// channel with a zero retry count if enabled and orderID is non-empty.
// Calling Update with the current values does nothing.
func (t *Tracker) Update(orderID string, enabled bool) {
	t.send(request{orderID: orderID, enabled: enabled})
}

// Close tears the tracker down. It is safe to call more than once.
func (t *Tracker) Close() {
	t.send(request{stop: true})
	<-t.done
	t.helpers.Wait()
}

func (t *Tracker) send(req request) {
	req.done = make(chan struct{})
	select {
	case t.requests <- req:
		<-req.done
	case <-t.done:
	}
}

// State returns the current observable state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Connected reports whether the channel is open.
func (t *Tracker) Connected() bool {
	return t.State().Connected
}

// Latest returns the most recent valid event, if any.
func (t *Tracker) Latest() (Event, bool) {
	s := t.State()
	if s.Latest == nil {
		return Event{}, false
	}
	return *s.Latest, true
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case req := <-t.requests:
			if req.stop {
				t.teardown()
				t.publish()
				close(req.done)
				return
			}
			t.resubscribe(req.orderID, req.enabled)
			close(req.done)

		case sig := <-t.signals:
			if sig.gen != t.gen {
				if sig.conn != nil {
					sig.conn.Close()
				}
				continue
			}
			switch sig.kind {
			case sigOpened:
				t.opened(sig.conn)
			case sigMessage:
				t.message(sig.data)
			case sigFailed, sigClosed:
				t.dropped(sig.err)
			case sigRetry:
				t.timer = nil
				t.connect()
				t.publish()
			}
		}
	}
}

// post delivers a signal to the loop. It reports false once the loop is gone.
func (t *Tracker) post(sig signal) bool {
	select {
	case t.signals <- sig:
		return true
	case <-t.done:
		return false
	}
}

func (t *Tracker) resubscribe(orderID string, enabled bool) {
	if orderID == t.orderID && enabled == t.enabled {
		return
	}
	t.teardown()
	if orderID != t.orderID {
		t.latest = nil
	}
	t.orderID, t.enabled = orderID, enabled
	t.retries, t.exhausted = 0, false
	if enabled && orderID != "" {
		t.connect()
	}
	t.publish()
}

// teardown closes everything without scheduling a reconnect or notifying.
func (t *Tracker) teardown() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.connected = false
}

func (t *Tracker) connect() {
	t.gen++
	gen := t.gen
	var ctx context.Context
	var cancel context.CancelFunc
	if t.cfg.HandshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.cfg.HandshakeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	t.cancelDial = cancel
	endpoint := Endpoint(t.cfg.BaseURL, t.orderID)
	header := t.cfg.Header.Clone()

	t.log.Debug("connecting", zap.String("order_id", t.orderID), zap.Int("retries", t.retries))
	t.helpers.Add(1)
	go func() {
		defer t.helpers.Done()
		conn, err := t.dialer.Dial(ctx, endpoint, header)
		if err != nil {
			t.post(signal{kind: sigFailed, gen: gen, err: err})
			return
		}
		if !t.post(signal{kind: sigOpened, gen: gen, conn: conn}) {
			conn.Close()
		}
	}()
}

func (t *Tracker) opened(conn Conn) {
	t.conn = conn
	t.connected = true
	t.retries = 0
	t.log.Info("order channel open", zap.String("order_id", t.orderID))
	t.publish()
	if t.onConnect != nil {
		t.onConnect()
	}

	gen := t.gen
	t.helpers.Add(1)
	go func() {
		defer t.helpers.Done()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.post(signal{kind: sigClosed, gen: gen, err: err})
				return
			}
			if !t.post(signal{kind: sigMessage, gen: gen, data: data}) {
				return
			}
		}
	}()
}

func (t *Tracker) message(data []byte) {
	ev, err := protocol.DecodeStatusEvent(data)
	if err != nil {
		t.log.Warn("dropping malformed message", zap.String("order_id", t.orderID), zap.Error(err))
		return
	}
	t.latest = &ev
	t.publish()
	if t.onEvent != nil {
		t.onEvent(ev)
	}
}

// dropped handles a failed open or a closed channel.
func (t *Tracker) dropped(err error) {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	t.connected = false
	t.log.Warn("order channel closed", zap.String("order_id", t.orderID), zap.Error(err))

	if t.retries < t.cfg.MaxRetries {
		t.retries++
		delay := t.cfg.RetryStep * time.Duration(t.retries)
		gen := t.gen
		t.timer = t.clock.AfterFunc(delay, func() {
			t.post(signal{kind: sigRetry, gen: gen})
		})
		t.log.Info("reconnect scheduled", zap.String("order_id", t.orderID),
			zap.Int("attempt", t.retries), zap.Duration("delay", delay))
	} else {
		t.exhausted = true
		t.log.Warn("giving up on order channel", zap.String("order_id", t.orderID),
			zap.Int("attempts", t.retries))
	}
	t.publish()

	if t.onDisconnect != nil {
		t.onDisconnect()
	}
}

func (t *Tracker) publish() {
	s := State{
		OrderID:   t.orderID,
		Enabled:   t.enabled,
		Connected: t.connected,
		Retries:   t.retries,
		Exhausted: t.exhausted,
	}
	if t.latest != nil {
		ev := *t.latest
		s.Latest = &ev
	}
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
