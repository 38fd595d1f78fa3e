// Package api is the customer-side client for the marketplace REST gateway.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"meatmarket/session"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *session.State
	log        *zap.Logger

	mu             sync.Mutex
	onUnauthorized func()
}

// NewClient returns a client for the gateway at baseURL (including any /api
// prefix). Bearer tokens are read from sess on every request.
func NewClient(baseURL string, timeout time.Duration, sess *session.State, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if sess == nil {
		sess = session.New(nil)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		session:    sess,
		log:        log.Named("api"),
	}
}

// OnUnauthorized registers the hook run after a 401 has cleared the session,
// typically sending the user back to the sign-in screen.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns the state the client authenticates with.
func (c *Client) Session() *session.State { return c.session }

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

func (c *Client) delete(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodDelete, path, nil, result)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	return c.doRaw(ctx, method, path, "application/json", bodyReader, result)
}

func (c *Client) doRaw(ctx context.Context, method, path, contentType string, body io.Reader, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.session != nil {
		if tok := c.session.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return c.decode(ctx, resp, method, path, result)
}

func (c *Client) decode(ctx context.Context, resp *http.Response, method, path string, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := normalizeError(resp.StatusCode, data)
		c.log.Debug("request failed", zap.String("method", method), zap.String("path", path),
			zap.Int("status", resp.StatusCode), zap.String("message", apiErr.Message))
		if resp.StatusCode == http.StatusUnauthorized {
			c.unauthorized(ctx)
		}
		return apiErr
	}
	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("api decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) unauthorized(ctx context.Context) {
	if c.session != nil {
		if err := c.session.Clear(ctx); err != nil {
			c.log.Warn("clearing session after 401", zap.Error(err))
		}
	}
	c.mu.Lock()
	fn := c.onUnauthorized
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}
