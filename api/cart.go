package api

import (
	"context"
	"net/url"

	"github.com/shopspring/decimal"

	"meatmarket/session"
)

type cartItemRequest struct {
	ProductID string          `json:"product_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Every cart call returns the server's cart and mirrors it into the session.

func (c *Client) GetCart(ctx context.Context) (*session.Cart, error) {
	return c.cartCall(ctx, func(out *session.Cart) error {
		return c.get(ctx, "/cart", out)
	})
}

func (c *Client) AddToCart(ctx context.Context, productID string, qty decimal.Decimal) (*session.Cart, error) {
	return c.cartCall(ctx, func(out *session.Cart) error {
		return c.post(ctx, "/cart/items", cartItemRequest{ProductID: productID, Quantity: qty}, out)
	})
}

func (c *Client) UpdateCartItem(ctx context.Context, productID string, qty decimal.Decimal) (*session.Cart, error) {
	return c.cartCall(ctx, func(out *session.Cart) error {
		return c.put(ctx, "/cart/items/"+url.PathEscape(productID), cartItemRequest{Quantity: qty}, out)
	})
}

func (c *Client) RemoveFromCart(ctx context.Context, productID string) (*session.Cart, error) {
	return c.cartCall(ctx, func(out *session.Cart) error {
		return c.delete(ctx, "/cart/items/"+url.PathEscape(productID), out)
	})
}

func (c *Client) ClearCart(ctx context.Context) error {
	if err := c.delete(ctx, "/cart", nil); err != nil {
		return err
	}
	c.session.SetCart(session.Cart{})
	return nil
}

func (c *Client) cartCall(ctx context.Context, call func(*session.Cart) error) (*session.Cart, error) {
	var cart session.Cart
	if err := call(&cart); err != nil {
		return nil, err
	}
	if cart.Total.IsZero() {
		cart.Total = cart.Subtotal()
	}
	c.session.SetCart(cart)
	return &cart, nil
}
