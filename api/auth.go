package api

import (
	"context"

	"meatmarket/session"
)

type authResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// Login signs in and stores the token and profile in the session.
func (c *Client) Login(ctx context.Context, email, password string) (*session.User, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.post(ctx, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.session.SetAuth(resp.Token, resp.User)
	return &resp.User, nil
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*session.User, error) {
	var resp authResponse
	if err := c.post(ctx, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	c.session.SetAuth(resp.Token, resp.User)
	return &resp.User, nil
}

// Me fetches the signed-in profile.
func (c *Client) Me(ctx context.Context) (*session.User, error) {
	var u session.User
	if err := c.get(ctx, "/auth/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout ends the session server-side, then clears it locally even if the
// server call failed.
func (c *Client) Logout(ctx context.Context) error {
	err := c.post(ctx, "/auth/logout", nil, nil)
	if clearErr := c.session.Clear(ctx); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}
