package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arklim/session-service/internal/transport/http/handlers"
)

// Client calls the admin surface of a running session service.
type Client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

// APIError is a non-2xx response from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// NewClient builds a client for the service at baseURL.
func NewClient(baseURL, adminKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListSessions(ctx context.Context, userID string) (*handlers.SessionHandlesResponse, error) {
	var out handlers.SessionHandlesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevokeSession(ctx context.Context, handle string) (bool, error) {
	var out handlers.RevokeSessionResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(handle), nil, &out); err != nil {
		return false, err
	}
	return out.Revoked, nil
}

func (c *Client) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	var out handlers.RevokeUserSessionsResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/users/"+url.PathEscape(userID)+"/sessions", nil, &out); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

func (c *Client) SessionData(ctx context.Context, handle string) (*handlers.SessionDataResponse, error) {
	var out handlers.SessionDataResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(handle)+"/data", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetSessionData(ctx context.Context, handle string, data json.RawMessage) error {
	return c.do(ctx, http.MethodPut, "/api/v1/sessions/"+url.PathEscape(handle)+"/data", handlers.SessionDataRequest{Data: data}, nil)
}

// CreateSession starts a session. Tokens are set as cookies on the response and are not returned.
func (c *Client) CreateSession(ctx context.Context, req handlers.CreateSessionRequest) (*handlers.SessionResponse, error) {
	var out handlers.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Handshake(ctx context.Context) (*handlers.HandshakeResponse, error) {
	var out handlers.HandshakeResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/handshake", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReloadHandshake(ctx context.Context) (*handlers.HandshakeResponse, error) {
	var out handlers.HandshakeResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/handshake/invalidate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr handlers.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
