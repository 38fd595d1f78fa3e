// Package engine applies order status traffic from the bus to the stored
// snapshots and fans the results out on an in-process event bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"meatmarket/config"
	"meatmarket/laststatus"
	"meatmarket/protocol"
	"meatmarket/store"
)

// ErrInvalidTransition is returned by SetStatus for a stage change the order
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// Connectivity reports the health of the messaging backend.
type Connectivity interface {
	IsConnected() bool
}

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Orders    *laststatus.Manager
	Messaging Connectivity
	Log       *zap.Logger
}

type Engine struct {
	cfg          *config.Config
	db           *store.DB
	orders       *laststatus.Manager
	messaging    Connectivity
	Events       *EventBus
	log          *zap.Logger
	now          func() time.Time
	stopOnce     sync.Once
	stopChan     chan struct{}
	wg           sync.WaitGroup
	msgConnected bool
}

func New(c Config) *Engine {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	orders := c.Orders
	if orders == nil {
		orders = laststatus.NewManager(c.DB, nil, log)
	}
	return &Engine{
		cfg:       c.AppConfig,
		db:        c.DB,
		orders:    orders,
		messaging: c.Messaging,
		Events:    NewEventBus(),
		log:       log.Named("engine"),
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// Start wires event logging and the messaging health check.
func (e *Engine) Start() {
	e.wireEventHandlers()
	e.checkConnectionStatus()
	e.wg.Add(1)
	go e.connectionHealthLoop()
	e.log.Info("started")
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	e.log.Info("stopped")
}

func (e *Engine) DB() *store.DB                { return e.db }
func (e *Engine) Orders() *laststatus.Manager  { return e.orders }
func (e *Engine) AppConfig() *config.Config    { return e.cfg }
func (e *Engine) Logger() *zap.Logger          { return e.log }

// MessagingConnected reports the last observed messaging state.
func (e *Engine) MessagingConnected() bool {
	return e.messaging != nil && e.messaging.IsConnected()
}

// ApplyStatus reconciles o against the stored snapshot and emits
// EventOrderUpdated when it wins, EventOrderStale otherwise.
func (e *Engine) ApplyStatus(ctx context.Context, o protocol.Order, source, note string) (store.ApplyResult, error) {
	res, err := e.orders.Apply(ctx, o, source, note)
	if err != nil {
		return res, fmt.Errorf("apply order %s: %w", o.ID, err)
	}
	if !res.Applied {
		e.Events.Emit(Event{Type: EventOrderStale, Payload: OrderStaleEvent{
			Incoming: o, Current: res.Current, Source: source,
		}})
		return res, nil
	}
	e.Events.Emit(Event{Type: EventOrderUpdated, Payload: OrderUpdatedEvent{
		Order: res.Current, Previous: res.Previous, Source: source,
	}})
	return res, nil
}

// SetStatus queues a manual stage change. The override travels through the
// outbox and the bus, and is applied when it comes back in.
func (e *Engine) SetStatus(ctx context.Context, id protocol.OrderID, status protocol.Stage, actor, note string) error {
	if !status.Known() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	current, err := e.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if !protocol.CanTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	src := protocol.Address{Role: protocol.RoleAdmin, Instance: e.instanceID()}
	dst := protocol.Address{Role: protocol.RolePushd}
	env, err := protocol.NewEnvelope(protocol.TypeStatusOverride, src, dst, &protocol.StatusOverride{
		OrderID: id,
		Status:  status,
		Actor:   actor,
		Note:    note,
	})
	if err != nil {
		return fmt.Errorf("build override: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode override: %w", err)
	}
	if err := e.db.EnqueueOutbox(ctx, e.cfg.Messaging.OverrideTopic, data, protocol.TypeStatusOverride); err != nil {
		return fmt.Errorf("enqueue override: %w", err)
	}
	e.log.Info("status override queued",
		zap.String("order_id", string(id)),
		zap.Stringer("status", status),
		zap.String("actor", actor))
	e.Events.Emit(Event{Type: EventOverrideQueued, Payload: OverrideQueuedEvent{OrderID: id, Status: status, Actor: actor}})
	return nil
}

func (e *Engine) instanceID() string {
	if e.cfg == nil {
		return ""
	}
	return e.cfg.Messaging.InstanceID
}

func (e *Engine) checkConnectionStatus() {
	if e.messaging == nil {
		return
	}
	if e.messaging.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else if e.msgConnected {
		e.msgConnected = false
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

func (e *Engine) connectionHealthLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
