package api

import (
	"context"
	"net/url"
)

func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var out []Subscription
	if err := c.get(ctx, "/subscriptions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	var s Subscription
	if err := c.post(ctx, "/subscriptions", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	return c.delete(ctx, "/subscriptions/"+url.PathEscape(id), nil)
}
