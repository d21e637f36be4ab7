// ABOUTME: HTTP client for the fleet-server operator API
// ABOUTME: Wraps device, job and session endpoints with typed requests and responses

package client

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

	"github.com/2389/fleetd/internal/api"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fleet-server error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one fleet-server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the operator bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDevices returns every known device.
func (c *Client) ListDevices(ctx context.Context) ([]api.Device, error) {
	var out []api.Device
	err := c.do(ctx, http.MethodGet, "/api/devices", nil, &out)
	return out, err
}

// GetDevice returns one device.
func (c *Client) GetDevice(ctx context.Context, id string) (*api.Device, error) {
	var out api.Device
	if err := c.do(ctx, http.MethodGet, "/api/devices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveDevice approves a device so it can open a session.
func (c *Client) ApproveDevice(ctx context.Context, id string) (*api.Device, error) {
	var out api.Device
	if err := c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(id)+"/approve", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetDeviceStatus changes a device's status.
func (c *Client) SetDeviceStatus(ctx context.Context, id, status string) (*api.Device, error) {
	var out api.Device
	body := api.StatusRequest{Status: status}
	if err := c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(id)+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RotateSecret issues a new device secret. The previous secret stops working.
func (c *Client) RotateSecret(ctx context.Context, id string) (*api.SecretResponse, error) {
	var out api.SecretResponse
	if err := c.do(ctx, http.MethodPost, "/api/devices/"+url.PathEscape(id)+"/secret", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDeviceJobs returns the most recent jobs of a device, newest first.
// limit <= 0 uses the server default.
func (c *Client) ListDeviceJobs(ctx context.Context, id string, limit int) ([]api.Job, error) {
	path := "/api/devices/" + url.PathEscape(id) + "/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []api.Job
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// DispatchJob creates a job for a device.
func (c *Client) DispatchJob(ctx context.Context, req api.DispatchRequest) (*api.DispatchResponse, error) {
	var out api.DispatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob returns a job with its status history.
func (c *Client) GetJob(ctx context.Context, id string) (*api.Job, error) {
	var out api.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitJob polls a job until it reaches a terminal status or ctx ends.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (*api.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case "completed", "failed", "cancelled":
			return job, nil
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListSessions returns the live device sessions.
func (c *Client) ListSessions(ctx context.Context) ([]api.Session, error) {
	var out []api.Session
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts the error message from a non-2xx response.
func handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var errResp api.Error
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
