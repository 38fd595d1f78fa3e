package protocol

// Bus message types.
const (
	// Order service -> pushd
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrderCancelled     = "order.cancelled"

	// pushd -> order service
	TypeStatusOverride = "order.status_override"
)

// Channel message types sent to WebSocket subscribers.
const (
	ChannelSnapshot     = "snapshot"
	ChannelStatusChange = "status_change"
)

// Roles for Address.Role.
const (
	RoleOrders = "orders"
	RolePushd  = "pushd"
	RoleAdmin  = "admin"
)

// Protocol version.
const Version = 1
