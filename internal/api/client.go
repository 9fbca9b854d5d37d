package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"framebridge/native/internal/domain"
)

const requestTimeout = 3 * time.Second

// Client queries the signaling server's HTTP status endpoint.
type Client struct {
	statusURL string
	http      *http.Client
}

// NewClient creates an API client for the given status URL.
func NewClient(statusURL string) *Client {
	return &Client{
		statusURL: statusURL,
		http:      &http.Client{Timeout: requestTimeout},
	}
}

// FetchStatus returns the number of cameras and viewers currently connected
// to the signaling server.
func (c *Client) FetchStatus(ctx context.Context) (*domain.ServerStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	var status domain.ServerStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &status, nil
}
