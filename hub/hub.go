// Package hub serves per-order WebSocket channels. Each order id has a room;
// every stored update for that order is broadcast to the room.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meatmarket/engine"
	"meatmarket/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// SnapshotFunc loads the stored order, or nil when it is not known.
type SnapshotFunc func(ctx context.Context) (*protocol.Order, error)

type Config struct {
	SendBuffer   int
	PingInterval time.Duration
	// CheckOrigin is passed to the upgrader; nil allows any origin.
	CheckOrigin func(r *http.Request) bool
}

type Hub struct {
	mu       sync.RWMutex
	rooms    map[protocol.OrderID]map[*client]struct{}
	cfg      Config
	upgrader websocket.Upgrader
	log      *zap.Logger
	wg       sync.WaitGroup
	closed   bool
}

func New(cfg Config, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		rooms: make(map[protocol.OrderID]map[*client]struct{}),
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log.Named("hub"),
	}
}

// Serve upgrades the request and streams updates for id until the client
// goes away. The snapshot is sent first when load returns one; broadcasts
// that race with the load are held back and only sent if newer.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id protocol.OrderID, load SnapshotFunc) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.String("order_id", string(id)), zap.Error(err))
		return
	}
	c := &client{
		hub:     h,
		conn:    conn,
		orderID: id,
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.wg.Add(1)
	go c.writePump()

	var snap *protocol.Order
	if load != nil {
		snap, err = load(r.Context())
		if err != nil {
			h.log.Warn("snapshot load failed", zap.String("order_id", string(id)), zap.Error(err))
		}
	}
	c.start(snap)
	c.readPump()
	h.unregister(c)
}

// Broadcast sends o to every client in its room.
func (h *Hub) Broadcast(o protocol.Order) {
	h.mu.RLock()
	room := h.rooms[o.ID]
	clients := make([]*client, 0, len(room))
	for c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.deliver(o)
	}
}

// SetupEngineListeners broadcasts every applied order update.
func (h *Hub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.Subscribe(func(evt engine.Event) {
		h.Broadcast(evt.Payload.(engine.OrderUpdatedEvent).Order)
	}, engine.EventOrderUpdated)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.drop()
	}
	h.wg.Wait()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	room, ok := h.rooms[c.orderID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.orderID] = room
	}
	room[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if room, ok := h.rooms[c.orderID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.orderID)
		}
	}
	h.mu.Unlock()
	c.drop()
}
