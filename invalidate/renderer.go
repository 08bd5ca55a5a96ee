// Package invalidate propagates committed catalog mutations to the public
// surface: it asks the renderer to regenerate stale pages and purges the
// CDN cache for those paths.
package invalidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/meadowfold/cattery/telemetry"
)

// DefaultRendererTimeout bounds a single page regeneration.
const DefaultRendererTimeout = 30 * time.Second

// RendererOption configures the renderer client.
type RendererOption func(*RendererClient)

// WithRendererHTTPClient sets a custom HTTP client.
func WithRendererHTTPClient(client *http.Client) RendererOption {
	return func(c *RendererClient) {
		c.client = client
	}
}

// WithRendererToken sets a bearer token for renderer requests.
func WithRendererToken(token string) RendererOption {
	return func(c *RendererClient) {
		c.token = token
	}
}

// RendererClient asks the site renderer to regenerate one public path.
type RendererClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRendererClient creates a renderer client for the given base URL.
func NewRendererClient(baseURL string, opts ...RendererOption) *RendererClient {
	c := &RendererClient{
		baseURL: baseURL,
		client: &http.Client{
			Transport: gzhttp.Transport(telemetry.NewInstrumentedTransport(nil, "renderer")),
			Timeout:   DefaultRendererTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type renderRequest struct {
	Path string `json:"path"`
}

// Render regenerates a single public path. A non-2xx response is an error.
func (c *RendererClient) Render(ctx context.Context, path string) error {
	body, err := json.Marshal(renderRequest{Path: path})
	if err != nil {
		return fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/_render", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("renderer returned status %d for %s", resp.StatusCode, path)
	}

	return nil
}
