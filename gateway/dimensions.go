package gateway

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	// Register the decoders the catalog accepts so DecodeConfig can
	// read their headers.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

const (
	// dimensionReadLimit bounds how much of the upstream object is
	// fetched. Image headers sit well inside the first 64 KiB.
	dimensionReadLimit = 64 * 1024

	dimensionTimeout = 10 * time.Second
)

// DimensionProber reads the pixel dimensions of an uploaded image.
type DimensionProber interface {
	Probe(ctx context.Context, src string) (width, height int, err error)
}

// HTTPDimensionProber probes dimensions with a ranged GET against the
// object's public URL and decodes only the image header.
type HTTPDimensionProber struct {
	client *http.Client
}

// NewHTTPDimensionProber returns a prober using the supplied client,
// or a default client when client is nil.
func NewHTTPDimensionProber(client *http.Client) *HTTPDimensionProber {
	if client == nil {
		client = &http.Client{Timeout: dimensionTimeout}
	}
	return &HTTPDimensionProber{client: client}
}

// Probe implements DimensionProber.
func (p *HTTPDimensionProber) Probe(ctx context.Context, src string) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build dimension request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", dimensionReadLimit-1))

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch image %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, 0, fmt.Errorf("unexpected status %d fetching image %s", resp.StatusCode, src)
	}

	cfg, _, err := image.DecodeConfig(io.LimitReader(resp.Body, dimensionReadLimit))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image header for %s: %w", src, err)
	}

	return cfg.Width, cfg.Height, nil
}
