package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meatmarket/protocol"
)

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	orderID protocol.OrderID
	send    chan []byte
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	ready   bool
	last    *protocol.Order
	pending []protocol.Order
}

// start sends the snapshot, then anything broadcast while it was loading.
func (c *client) start(snap *protocol.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap != nil {
		c.enqueue(protocol.ChannelSnapshot, *snap)
	}
	for _, o := range c.pending {
		if c.last == nil || protocol.Newer(o, *c.last) {
			c.enqueue(protocol.ChannelStatusChange, o)
		}
	}
	c.pending = nil
	c.ready = true
}

func (c *client) deliver(o protocol.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		c.pending = append(c.pending, o)
		return
	}
	c.enqueue(protocol.ChannelStatusChange, o)
}

// enqueue must be called with c.mu held. A full buffer drops the client.
func (c *client) enqueue(msgType string, o protocol.Order) {
	frame, err := protocol.EncodeChannelMessage(msgType, o)
	if err != nil {
		c.hub.log.Error("encode frame", zap.String("order_id", string(o.ID)), zap.Error(err))
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
		last := o
		c.last = &last
	default:
		c.hub.log.Warn("slow client dropped", zap.String("order_id", string(c.orderID)))
		c.drop()
	}
}

func (c *client) drop() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound frames and returns when the connection fails.
func (c *client) readPump() {
	pongWait := c.hub.cfg.PingInterval * 2
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.hub.wg.Done()
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.drop()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop()
				return
			}
		}
	}
}
