package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a rejected response is kept for logging.
const maxErrorBody = 512

// Client talks to the HTTP surface of a hub or another node.
//
// One Client, and so one http.Client, is shared by the uplink loop and
// every forwarder worker.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for addr, given as host:port or as a full
// http(s) URL.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the URL requests are made against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostUplink pushes a node snapshot to /uplink.
func (c *Client) PostUplink(ctx context.Context, p Payload) error {
	return c.postJSON(ctx, "/uplink", p)
}

// PostEvent forwards an emitted event to the hub's /event endpoint.
func (c *Client) PostEvent(ctx context.Context, ev OutboundEvent) error {
	return c.postJSON(ctx, "/event", ev)
}

// SendEvent asks a node to run an event on one of its objects.
func (c *Client) SendEvent(ctx context.Context, ev InboundEvent) error {
	return c.postJSON(ctx, "/event", ev)
}

// FetchSnapshot pulls the current snapshot from a node's GET /uplink.
func (c *Client) FetchSnapshot(ctx context.Context) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/uplink", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("/uplink", resp)
	}

	var p Payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &p, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Path:   path,
		Status: resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}
