// Package apiclient is the HTTP client for the daemon's loopback RPC
// surface, used by the diagnostic CLI commands. It never starts a daemon;
// a connection refusal means no daemon is running.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/olafkfreund/cconnect/pkg/api"
)

// Client talks to a running daemon on its loopback RPC port.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the daemon listening on the given RPC port.
func New(port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			apiErr.StatusCode = resp.StatusCode
			return &apiErr
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

// Health probes GET /health. A nil error means a daemon is up.
func (c *Client) Health() error {
	return c.get("/health", nil)
}

// Devices lists all known devices.
func (c *Client) Devices() ([]api.DeviceView, error) {
	var out []api.DeviceView
	if err := c.get("/api/v1/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Device fetches one device by id.
func (c *Client) Device(id string) (*api.DeviceView, error) {
	var out api.DeviceView
	if err := c.get("/api/v1/devices/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping sends a ping packet to a device, opening a session if needed.
func (c *Client) Ping(id, message string) error {
	body := map[string]string{}
	if message != "" {
		body["message"] = message
	}
	return c.post("/api/v1/devices/"+url.PathEscape(id)+"/ping", body, nil)
}

// Config fetches the daemon configuration surface.
func (c *Client) Config() (*api.ConfigView, error) {
	var out api.ConfigView
	if err := c.get("/api/v1/config", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics fetches the raw Prometheus exposition text. Returns an APIError
// with status 404 when metrics are disabled.
func (c *Client) Metrics() (string, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("daemon not reachable at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: "metrics not enabled"}
	}
	return string(body), nil
}
