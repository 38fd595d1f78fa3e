// Package watch drives an order-tracking view: it follows the order over the
// push channel, falls back to polling once the channel gives up, and merges
// both sources so an older snapshot never replaces a newer one.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"meatmarket/protocol"
	"meatmarket/tracker"
)

const DefaultPollInterval = 10 * time.Second

// Fetcher reads the current representation of an order.
type Fetcher interface {
	GetOrder(ctx context.Context, id protocol.OrderID) (protocol.Order, error)
}

// Source tells where the view's order last came from.
type Source string

const (
	SourceNone Source = ""
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// View is what a tracking screen renders.
type View struct {
	OrderID  protocol.OrderID
	Order    protocol.Order
	HasOrder bool
	Source   Source
	// Live is true only while the push channel is open.
	Live      bool
	Polling   bool
	Exhausted bool
}

type Config struct {
	Tracker      tracker.Config
	PollInterval time.Duration
}

type Option func(*Watch)

// WithTrackerOptions passes options through to the underlying tracker.
func WithTrackerOptions(opts ...tracker.Option) Option {
	return func(w *Watch) { w.trackerOpts = append(w.trackerOpts, opts...) }
}

// WithClock sets the clock driving the poll interval.
func WithClock(c clock.Clock) Option { return func(w *Watch) { w.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(w *Watch) { w.log = l } }

// WithOnUpdate registers a callback for every view change. Calls are
// serialized and may come from any goroutine; the callback may call View.
func WithOnUpdate(fn func(View)) Option { return func(w *Watch) { w.onUpdate = fn } }

type Watch struct {
	cfg         Config
	fetch       Fetcher
	clock       clock.Clock
	log         *zap.Logger
	onUpdate    func(View)
	trackerOpts []tracker.Option
	tr          *tracker.Tracker

	emitMu sync.Mutex
	mu     sync.Mutex
	view   View
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts watching orderID: an initial fetch plus the push channel.
func New(orderID protocol.OrderID, cfg Config, fetch Fetcher, opts ...Option) *Watch {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	w := &Watch{
		cfg:   cfg,
		fetch: fetch,
		clock: clock.New(),
		log:   zap.NewNop(),
		view:  View{OrderID: orderID},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.Named("watch").With(zap.String("order_id", string(orderID)))
	w.ctx, w.cancel = context.WithCancel(context.Background())

	trOpts := append([]tracker.Option{
		tracker.WithLogger(w.log),
		tracker.WithOnEvent(func(ev tracker.Event) { w.apply(ev.Order, SourcePush) }),
		tracker.WithOnConnect(w.connected),
		tracker.WithOnDisconnect(w.disconnected),
	}, w.trackerOpts...)
	w.tr = tracker.New(cfg.Tracker, trOpts...)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.fetchOnce(w.ctx)
	}()
	w.tr.Update(string(orderID), true)
	return w
}

// View returns the current view.
func (w *Watch) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// Reconnect re-creates the push subscription after it has given up, and
// stops polling once the channel is back.
func (w *Watch) Reconnect() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	id := string(w.view.OrderID)
	w.mu.Unlock()

	w.update(func(v *View) { v.Exhausted = false })
	w.tr.Update(id, false)
	w.tr.Update(id, true)
}

// Close stops the channel and any polling. No update fires after it returns.
func (w *Watch) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.tr.Close()
	w.wg.Wait()
}

func (w *Watch) connected() {
	w.update(func(v *View) {
		v.Live = true
		v.Exhausted = false
	})
}

func (w *Watch) disconnected() {
	exhausted := w.tr.State().Exhausted
	w.update(func(v *View) {
		v.Live = false
		v.Exhausted = exhausted
	})
	if exhausted {
		w.startPolling()
	}
}

func (w *Watch) startPolling() {
	w.mu.Lock()
	if w.closed || w.view.Polling {
		w.mu.Unlock()
		return
	}
	if w.view.HasOrder && w.view.Order.Status.IsTerminal() {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	w.log.Info("push channel exhausted, polling", zap.Duration("interval", w.cfg.PollInterval))
	w.update(func(v *View) { v.Polling = true })
	go w.poll()
}

func (w *Watch) poll() {
	defer w.wg.Done()
	defer w.update(func(v *View) { v.Polling = false })

	ticker := w.clock.Ticker(w.cfg.PollInterval)
	defer ticker.Stop()

	if w.fetchOnce(w.ctx) {
		return
	}
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if w.tr.Connected() {
				w.log.Info("push channel back, polling stopped")
				return
			}
			if w.fetchOnce(w.ctx) {
				return
			}
		}
	}
}

// fetchOnce polls the order once and reports whether it reached a terminal stage.
func (w *Watch) fetchOnce(ctx context.Context) bool {
	w.mu.Lock()
	id := w.view.OrderID
	w.mu.Unlock()

	o, err := w.fetch.GetOrder(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("order fetch failed", zap.Error(err))
		}
		return false
	}
	w.apply(o, SourcePoll)
	return o.Status.IsTerminal()
}

// apply merges a snapshot, dropping it if it is older than what is shown.
func (w *Watch) apply(o protocol.Order, src Source) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if o.ID != w.view.OrderID {
		w.mu.Unlock()
		w.log.Warn("ignoring snapshot for another order", zap.String("got", string(o.ID)))
		return
	}
	if w.view.HasOrder && !protocol.Newer(o, w.view.Order) {
		cur := w.view.Order
		w.mu.Unlock()
		w.log.Debug("dropping stale snapshot", zap.String("source", string(src)),
			zap.Int64("seq", o.Seq), zap.Int64("current_seq", cur.Seq))
		return
	}
	w.view.Order = o
	w.view.HasOrder = true
	w.view.Source = src
	v := w.view
	w.mu.Unlock()

	if w.onUpdate != nil {
		w.onUpdate(v)
	}
}

func (w *Watch) update(fn func(*View)) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	before := w.view
	fn(&w.view)
	v := w.view
	w.mu.Unlock()

	changed := v.Live != before.Live || v.Polling != before.Polling || v.Exhausted != before.Exhausted
	if changed && w.onUpdate != nil {
		w.onUpdate(v)
	}
}
