package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is returned when a payload does not describe an order.
var ErrInvalidOrder = errors.New("invalid order payload")

// OrderID identifies an order. The wire form may be a JSON string or number.
type OrderID string

// UnmarshalJSON accepts "42" and 42 alike.
func (id *OrderID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("order id must be a string or number: %w", err)
	}
	*id = OrderID(n.String())
	return nil
}

// Item is one line of an order.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Cut       string          `json:"cut,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      string          `json:"unit,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is the server's view of one order at a point in time.
type Order struct {
	ID        OrderID         `json:"id"`
	Status    Stage           `json:"status"`
	Items     []Item          `json:"items,omitempty"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Seq       int64           `json:"seq,omitempty"`
}

// DecodeOrder strictly decodes an order representation: it must be a JSON
// object with a non-empty id and a string status.
func DecodeOrder(data []byte) (Order, error) {
	var o Order
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return o, fmt.Errorf("%w: not an object", ErrInvalidOrder)
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if o.ID == "" {
		return Order{}, fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	if o.Status.IsZero() {
		return Order{}, fmt.Errorf("%w: missing status", ErrInvalidOrder)
	}
	return o, nil
}

// Newer reports whether candidate should replace current. Differing sequence
// numbers decide when both sides carry one; otherwise the later UpdatedAt
// wins. At an equal seq a timestamp replaces a snapshot that has none, and a
// candidate without one never replaces. With neither available the candidate
// wins, matching arrival order.
func Newer(candidate, current Order) bool {
	if current.ID == "" {
		return true
	}
	bothSeq := candidate.Seq > 0 && current.Seq > 0
	if bothSeq && candidate.Seq != current.Seq {
		return candidate.Seq > current.Seq
	}
	if !candidate.UpdatedAt.IsZero() && !current.UpdatedAt.IsZero() {
		return candidate.UpdatedAt.After(current.UpdatedAt)
	}
	if bothSeq {
		return !candidate.UpdatedAt.IsZero()
	}
	return true
}
