package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ophttp "github.com/fyrsmithlabs/opsloop/internal/http"
	"github.com/fyrsmithlabs/opsloop/internal/services"
)

// Snapshot is one poll of the daemon.
type Snapshot struct {
	Health    ophttp.HealthResponse `json:"health"`
	Stats     services.Stats        `json:"stats"`
	FetchedAt time.Time             `json:"fetchedAt"`
}

// Client polls an opsloopd HTTP server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for addr, a URL or a bare host:port.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		client:  &http.Client{Timeout: 2 * time.Second},
	}
}

// BaseURL returns the polled server's URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch reads health and stats. A degraded daemon answers /health with
// 503 and still yields a snapshot.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := c.getJSON(ctx, "/health", &snap.Health, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return Snapshot{}, err
	}
	if err := c.getJSON(ctx, "/api/v1/stats", &snap.Stats, http.StatusOK); err != nil {
		return Snapshot{}, err
	}
	snap.FetchedAt = time.Now()
	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any, accept ...int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	ok := false
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return fmt.Errorf("GET %s: unexpected status code %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: failed to decode response: %w", path, err)
	}
	return nil
}
