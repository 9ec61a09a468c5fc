package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to a pacepass server. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string

	// Configuration
	MaxRetries int           // Retries on network errors and 5xx (default: 2)
	RetryDelay time.Duration // Delay between retries (default: 500ms)

	// Hooks
	OnDecision func(*Decision) // Called after each check-in decision
}

// NewClient creates a client for the server at baseURL,
// e.g. "https://checkin.runclub.example".
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Checkin submits a scanned QR payload and returns the decision.
//
// A rejected check-in is not an error: the decision's Accepted field is
// false and Reason says why. Errors are transport failures or server
// faults only.
func (c *Client) Checkin(ctx context.Context, payload string) (*Decision, error) {
	body, err := json.Marshal(map[string]string{"payload": payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, "POST", "/v1/checkins", body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision: %w", err)
	}

	if c.OnDecision != nil {
		c.OnDecision(&decision)
	}

	return &decision, nil
}

// Recent fetches the latest accepted check-ins, newest first.
func (c *Client) Recent(ctx context.Context, limit int) ([]CheckinEvent, error) {
	path := "/v1/checkins/recent"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.doWithRetry(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var feed struct {
		Checkins []CheckinEvent `json:"checkins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return feed.Checkins, nil
}

// doWithRetry performs the request, retrying on network errors and 5xx.
// Door terminals sit on flaky venue wifi; a transient failure should not
// turn a runner away.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = parseError(resp)
			_ = resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.MaxRetries+1, lastErr)
}
