package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meatmarket/config"
	"meatmarket/protocol"
	"meatmarket/store"
)

func testEngine(t *testing.T) (*Engine, *store.DB) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "engine.db")
	db, err := store.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(Config{AppConfig: cfg, DB: db}), db
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func TestEventBusFilterAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	var all, updates eventLog
	id := bus.Subscribe(all.record)
	bus.Subscribe(updates.record, EventOrderUpdated)

	bus.Emit(Event{Type: EventOrderUpdated})
	bus.Emit(Event{Type: EventOrderStale})
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventOrderUpdated})

	assert.Equal(t, []EventType{EventOrderUpdated, EventOrderStale}, all.types())
	assert.Equal(t, []EventType{EventOrderUpdated, EventOrderUpdated}, updates.types())
	assert.False(t, all.events[0].Timestamp.IsZero())
}

func TestApplyStatusMonotonic(t *testing.T) {
	e, _ := testEngine(t)
	var log eventLog
	e.Events.Subscribe(log.record)
	ctx := context.Background()

	_, err := e.ApplyStatus(ctx, protocol.Order{ID: "42", Status: protocol.StageCutting, Seq: 3}, "bus", "")
	require.NoError(t, err)
	res, err := e.ApplyStatus(ctx, protocol.Order{ID: "42", Status: protocol.StageConfirmed, Seq: 2}, "bus", "")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, protocol.StageCutting, res.Current.Status)

	assert.Equal(t, []EventType{EventOrderUpdated, EventOrderStale}, log.types())
	upd := log.events[0].Payload.(OrderUpdatedEvent)
	assert.Nil(t, upd.Previous)
	assert.Equal(t, protocol.OrderID("42"), upd.Order.ID)
}

func TestHandlerMergesStageOnlyUpdates(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	h := e.Handler()
	env := &protocol.Envelope{ID: "m1"}

	h.HandleOrderCreated(env, &protocol.OrderCreated{Order: protocol.Order{
		ID: "7", Status: protocol.StagePending, Seq: 1,
		Items: []protocol.Item{{ProductID: "rib", Name: "Ribeye", Quantity: decimal.NewFromInt(2)}},
	}})
	h.HandleOrderStatusChanged(env, &protocol.OrderStatusChanged{OrderID: "7", Status: protocol.StagePacking, Seq: 4})

	o, err := e.Orders().Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, protocol.StagePacking, o.Status)
	assert.Equal(t, int64(4), o.Seq)
	require.Len(t, o.Items, 1, "items survive a stage-only update")

	h.HandleOrderCancelled(env, &protocol.OrderCancelled{OrderID: "7", Reason: "out of stock", Seq: 5})
	o, err = e.Orders().Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageCancelled, o.Status)

	hist, err := e.DB().ListHistory(ctx, "7")
	require.NoError(t, err)
	require.NotEmpty(t, hist)
	assert.Equal(t, "out of stock", hist[len(hist)-1].Note)
}

func TestSetStatusQueuesOverride(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()
	_, err := e.ApplyStatus(ctx, protocol.Order{ID: "9", Status: protocol.StageOutForDelivery, Seq: 6}, "bus", "")
	require.NoError(t, err)

	err = e.SetStatus(ctx, "9", protocol.StageCancelled, "alice", "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = e.SetStatus(ctx, "missing", protocol.StageDelivered, "alice", "")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, e.SetStatus(ctx, "9", protocol.StageDelivered, "alice", "left at door"))
	msgs, err := db.ListPendingOutbox(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, e.AppConfig().Messaging.OverrideTopic, msgs[0].Topic)

	// Feed the queued envelope back through the ingestor as the bus would.
	ing := protocol.NewIngestor(e.Handler(), e.Handler().Filter, nil)
	ing.HandleRaw(msgs[0].Payload)

	o, err := e.Orders().Get(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageDelivered, o.Status)
	assert.Equal(t, int64(6), o.Seq, "override keeps the upstream seq")

	hist, err := db.ListHistory(ctx, "9")
	require.NoError(t, err)
	assert.Equal(t, "admin:alice", hist[len(hist)-1].Source)
}

func TestOverrideWithoutSeqUsesClock(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base.Add(time.Minute) }

	_, err := e.ApplyStatus(ctx, protocol.Order{ID: "5", Status: protocol.StageCutting, UpdatedAt: base}, "bus", "")
	require.NoError(t, err)
	e.Handler().HandleStatusOverride(&protocol.Envelope{}, &protocol.StatusOverride{OrderID: "5", Status: protocol.StagePacking, Actor: "bob"})

	o, err := e.Orders().Get(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, protocol.StagePacking, o.Status)
	assert.True(t, o.UpdatedAt.Equal(base.Add(time.Minute)))
}

func TestUpstreamUpdateAfterOverride(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	var log eventLog
	e.Events.Subscribe(log.record, EventOrderUpdated, EventOrderStale)

	_, err := e.ApplyStatus(ctx, protocol.Order{ID: "42", Status: protocol.StageConfirmed, Seq: 1}, "bus", "")
	require.NoError(t, err)
	e.Handler().HandleStatusOverride(&protocol.Envelope{}, &protocol.StatusOverride{OrderID: "42", Status: protocol.StageCutting, Actor: "alice"})

	o, err := e.Orders().Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageCutting, o.Status)
	assert.Equal(t, int64(1), o.Seq)

	// A redelivered seq 1 snapshot loses to the override.
	res, err := e.ApplyStatus(ctx, protocol.Order{ID: "42", Status: protocol.StageConfirmed, Seq: 1}, "bus", "")
	require.NoError(t, err)
	assert.False(t, res.Applied)

	res, err = e.ApplyStatus(ctx, protocol.Order{ID: "42", Status: protocol.StagePacking, Seq: 2}, "bus", "")
	require.NoError(t, err)
	assert.True(t, res.Applied, "next upstream seq must not be treated as stale")
	assert.Equal(t, protocol.StagePacking, res.Current.Status)

	assert.Equal(t, []EventType{EventOrderUpdated, EventOrderUpdated, EventOrderStale, EventOrderUpdated}, log.types())
}

func TestStageOnlyUpdateKeepsOrdering(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base.Add(time.Minute) }
	h := e.Handler()
	env := &protocol.Envelope{ID: "m1"}

	h.HandleOrderCreated(env, &protocol.OrderCreated{Order: protocol.Order{
		ID: "8", Status: protocol.StageConfirmed, Seq: 3, UpdatedAt: base,
	}})
	h.HandleOrderStatusChanged(env, &protocol.OrderStatusChanged{OrderID: "8", Status: protocol.StageCutting})

	o, err := e.Orders().Get(ctx, "8")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageCutting, o.Status)
	assert.Equal(t, int64(3), o.Seq, "stored seq survives an update without one")
	assert.True(t, o.UpdatedAt.Equal(base.Add(time.Minute)))

	h.HandleOrderStatusChanged(env, &protocol.OrderStatusChanged{OrderID: "8", Status: protocol.StageConfirmed, Seq: 2})
	o, err = e.Orders().Get(ctx, "8")
	require.NoError(t, err)
	assert.Equal(t, protocol.StageCutting, o.Status, "older seq is still rejected")

	h.HandleOrderStatusChanged(env, &protocol.OrderStatusChanged{OrderID: "8", Status: protocol.StagePacking, Seq: 4})
	o, err = e.Orders().Get(ctx, "8")
	require.NoError(t, err)
	assert.Equal(t, protocol.StagePacking, o.Status)
	assert.Equal(t, int64(4), o.Seq)
}

type fakeConn struct {
	mu sync.Mutex
	up bool
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func TestConnectionEvents(t *testing.T) {
	e, _ := testEngine(t)
	conn := &fakeConn{up: true}
	e.messaging = conn
	var log eventLog
	e.Events.Subscribe(log.record, EventMessagingConnected, EventMessagingDisconnected)

	e.checkConnectionStatus()
	e.checkConnectionStatus()
	conn.mu.Lock()
	conn.up = false
	conn.mu.Unlock()
	e.checkConnectionStatus()

	assert.Equal(t, []EventType{EventMessagingConnected, EventMessagingDisconnected}, log.types())
}

func TestStartStop(t *testing.T) {
	e, _ := testEngine(t)
	e.Start()
	e.Stop()
	e.Stop()
}
