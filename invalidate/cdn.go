package invalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meadowfold/cattery/telemetry"
)

// DefaultCDNTimeout bounds a purge batch.
const DefaultCDNTimeout = 30 * time.Second

// CDNOption configures the CDN client.
type CDNOption func(*CDNClient)

// WithCDNHTTPClient sets a custom HTTP client.
func WithCDNHTTPClient(client *http.Client) CDNOption {
	return func(c *CDNClient) {
		c.client = client
	}
}

// CDNClient purges cached paths at the CDN edge. All paths of one
// dispatch go out as a single batch.
type CDNClient struct {
	apiURL string
	token  string
	client *http.Client
}

// NewCDNClient creates a CDN client for the given purge API URL and token.
func NewCDNClient(apiURL, token string, opts ...CDNOption) *CDNClient {
	c := &CDNClient{
		apiURL: apiURL,
		token:  token,
		client: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil, "cdn"),
			Timeout:   DefaultCDNTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type purgeRequest struct {
	Paths []string `json:"paths"`
}

// Purge submits one batched purge for the given paths.
func (c *CDNClient) Purge(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	body, err := json.Marshal(purgeRequest{Paths: paths})
	if err != nil {
		return fmt.Errorf("failed to marshal purge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/purge", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build purge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		telemetry.RecordCDNPurge(ctx, len(paths), "error")
		return fmt.Errorf("failed to purge %d paths: %w", len(paths), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.RecordCDNPurge(ctx, len(paths), "error")
		return fmt.Errorf("cdn purge returned status %d", resp.StatusCode)
	}

	telemetry.RecordCDNPurge(ctx, len(paths), "success")

	return nil
}
