package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default timeout for object store requests.
	DefaultTimeout = 30 * time.Second
)

// HTTP implements Store against an S3-style HTTP object host: objects live
// under "{base}/{key}", batch deletion at "POST {base}/batch-delete".
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTP store.
type HTTPOption func(*HTTP)

// WithToken sets the bearer token for store authentication.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) {
		h.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = client
	}
}

// NewHTTP creates an HTTP object store client for the given base URL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) objectURL(key string) string {
	return h.baseURL + "/" + strings.TrimPrefix(key, "/")
}

func (h *HTTP) do(req *http.Request) (*http.Response, error) {
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	return h.client.Do(req)
}

// Write stores data at the given key.
func (h *HTTP) Write(ctx context.Context, key string, r io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.objectURL(key), r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := h.do(req)
	if err != nil {
		return fmt.Errorf("putting object %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("putting object %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// Read retrieves data at the given key.
func (h *HTTP) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := h.do(req)
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("getting object %s: unexpected status %d", key, resp.StatusCode)
	}
	return resp.Body, nil
}

// Delete removes data at the given key. Missing keys are not an error.
func (h *HTTP) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := h.do(req)
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("deleting object %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// Exists checks if a key exists.
func (h *HTTP) Exists(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.objectURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	resp, err := h.do(req)
	if err != nil {
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300:
		return false, fmt.Errorf("checking object %s: unexpected status %d", key, resp.StatusCode)
	}
	return true, nil
}

// List returns all keys with the given prefix.
func (h *HTTP) List(ctx context.Context, prefix string) ([]string, error) {
	u := h.baseURL + "/?prefix=" + url.QueryEscape(prefix)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := h.do(req)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("listing objects: unexpected status %d", resp.StatusCode)
	}
	var result struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}
	return result.Keys, nil
}

// DeleteBatch removes a batch of keys in one call, returning the keys the
// host could not confirm deleted.
func (h *HTTP) DeleteBatch(ctx context.Context, keys []string) ([]string, error) {
	body, err := json.Marshal(struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
	if err != nil {
		return keys, fmt.Errorf("marshaling batch delete: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/batch-delete", bytes.NewReader(body))
	if err != nil {
		return keys, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.do(req)
	if err != nil {
		return keys, fmt.Errorf("batch delete: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return keys, fmt.Errorf("batch delete: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Failed []string `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return keys, fmt.Errorf("decoding batch delete response: %w", err)
	}
	return result.Failed, nil
}

// Compile-time interface checks
var (
	_ Store        = (*HTTP)(nil)
	_ BatchDeleter = (*HTTP)(nil)
)
