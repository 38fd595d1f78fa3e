package api

import (
	"context"
	"net/url"
)

func (c *Client) ListReviews(ctx context.Context, productID string) ([]Review, error) {
	var out []Review
	if err := c.get(ctx, "/products/"+url.PathEscape(productID)+"/reviews", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateReview(ctx context.Context, req ReviewRequest) (*Review, error) {
	var r Review
	if err := c.post(ctx, "/products/"+url.PathEscape(req.ProductID)+"/reviews", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
