package api

import (
	"context"
	"net/url"

	"meatmarket/protocol"
	"meatmarket/session"
)

// PlaceOrder checks out the cart. The new order becomes the session's
// current order and the local cart is emptied.
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*protocol.Order, error) {
	var raw []byte
	if err := c.post(ctx, "/orders", req, &raw); err != nil {
		return nil, err
	}
	o, err := protocol.DecodeOrder(raw)
	if err != nil {
		return nil, err
	}
	c.session.SetCurrentOrder(o.ID)
	c.session.SetCart(session.Cart{})
	return &o, nil
}

func (c *Client) ListOrders(ctx context.Context) ([]protocol.Order, error) {
	var out []protocol.Order
	if err := c.get(ctx, "/orders", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrder fetches the current representation of one order. It is the
// fallback when the push channel is unavailable.
func (c *Client) GetOrder(ctx context.Context, id protocol.OrderID) (protocol.Order, error) {
	var raw []byte
	if err := c.get(ctx, "/orders/"+url.PathEscape(string(id)), &raw); err != nil {
		return protocol.Order{}, err
	}
	return protocol.DecodeOrder(raw)
}

func (c *Client) CancelOrder(ctx context.Context, id protocol.OrderID, reason string) (protocol.Order, error) {
	var raw []byte
	body := map[string]string{"reason": reason}
	if err := c.post(ctx, "/orders/"+url.PathEscape(string(id))+"/cancel", body, &raw); err != nil {
		return protocol.Order{}, err
	}
	return protocol.DecodeOrder(raw)
}
