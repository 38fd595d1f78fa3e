package engine

import "meatmarket/protocol"

const (
	EventOrderUpdated EventType = iota + 1
	EventOrderStale
	EventOverrideQueued
	EventMessagingConnected
	EventMessagingDisconnected
)

// OrderUpdatedEvent is emitted after a snapshot replaced the stored one.
type OrderUpdatedEvent struct {
	Order    protocol.Order
	Previous *protocol.Order
	Source   string
}

// OrderStaleEvent is emitted when an incoming snapshot lost reconciliation.
type OrderStaleEvent struct {
	Incoming protocol.Order
	Current  protocol.Order
	Source   string
}

type OverrideQueuedEvent struct {
	OrderID protocol.OrderID
	Status  protocol.Stage
	Actor   string
}

type ConnectionEvent struct {
	Detail string
}
