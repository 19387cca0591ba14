package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"logpipe/internal/app"
	"logpipe/internal/httpapi"
	"logpipe/internal/models"
	"logpipe/internal/providers"
	"logpipe/internal/queue"
	"logpipe/internal/utils"
)

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin API returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to the admin API of a running pipeline.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the admin API at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken replaces the bearer token sent with each request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (httpapi.TokenResponse, error) {
	var resp httpapi.TokenResponse
	err := c.do(ctx, http.MethodPost, "/admin/auth/token", nil, httpapi.TokenRequest{Username: username, Password: password}, &resp)
	if err == nil {
		c.token = resp.Token
	}
	return resp, err
}

// Providers lists active providers and catalog entries.
func (c *Client) Providers(ctx context.Context) (httpapi.ProvidersResponse, error) {
	var resp httpapi.ProvidersResponse
	err := c.do(ctx, http.MethodGet, "/admin/providers", nil, nil, &resp)
	return resp, err
}

// Enable enables the catalog entry d.
func (c *Client) Enable(ctx context.Context, d providers.Descriptor) error {
	return c.do(ctx, http.MethodPost, "/admin/providers", nil, httpapi.ProviderRequest{Type: d.Type, Key: d.Key}, nil)
}

// Disable disables the provider d.
func (c *Client) Disable(ctx context.Context, d providers.Descriptor) error {
	return c.do(ctx, http.MethodDelete, "/admin/providers", descriptorQuery(d), nil, nil)
}

// Reload asks the server to re-read its catalog file.
func (c *Client) Reload(ctx context.Context) ([]app.ProviderStatus, error) {
	var resp []app.ProviderStatus
	err := c.do(ctx, http.MethodPost, "/admin/catalog/reload", nil, nil, &resp)
	return resp, err
}

// Logs reads up to limit messages retained by provider d.
func (c *Client) Logs(ctx context.Context, d providers.Descriptor, limit int) ([]*models.LogMessage, error) {
	q := descriptorQuery(d)
	q.Set("limit", strconv.Itoa(limit))

	var resp []*models.LogMessage
	err := c.do(ctx, http.MethodGet, "/admin/logs", q, nil, &resp)
	return resp, err
}

// Failures lists recorded delivery failures.
func (c *Client) Failures(ctx context.Context, limit int) ([]queue.DeadLetterItem, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	var resp []queue.DeadLetterItem
	err := c.do(ctx, http.MethodGet, "/admin/failures", q, nil, &resp)
	return resp, err
}

// Retry redelivers one recorded failure.
func (c *Client) Retry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/admin/failures/"+url.PathEscape(id)+"/retry", nil, nil, nil)
}

// Stats fetches the dispatcher and database counters.
func (c *Client) Stats(ctx context.Context) (httpapi.StatsResponse, error) {
	var resp httpapi.StatsResponse
	err := c.do(ctx, http.MethodGet, "/admin/stats", nil, nil, &resp)
	return resp, err
}

// Health checks the server's backends.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func descriptorQuery(d providers.Descriptor) url.Values {
	q := url.Values{}
	q.Set("type", d.Type)
	if d.Key != "" {
		q.Set("key", d.Key)
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp utils.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
