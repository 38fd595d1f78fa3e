package protocol

import "time"

// OrderCreated announces a freshly placed order with its full representation.
type OrderCreated struct {
	Order Order `json:"order"`
}

// OrderStatusChanged carries the order after a stage transition. Order is the
// full representation when the publisher has it; otherwise only the stage fields
// are set and receivers merge them into their stored snapshot.
type OrderStatusChanged struct {
	OrderID   OrderID   `json:"order_id"`
	Status    Stage     `json:"status"`
	Seq       int64     `json:"seq,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Order     *Order    `json:"order,omitempty"`
}

// OrderCancelled is a cancellation with its reason.
type OrderCancelled struct {
	OrderID   OrderID   `json:"order_id"`
	Reason    string    `json:"reason,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusOverride is a manual stage change entered through the admin portal.
type StatusOverride struct {
	OrderID OrderID `json:"order_id"`
	Status  Stage   `json:"status"`
	Actor   string  `json:"actor"`
	Note    string  `json:"note,omitempty"`
}
