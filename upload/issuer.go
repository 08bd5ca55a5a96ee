// Package upload issues one-time write capabilities for the object store so
// admin clients upload image bytes directly, out of band of the mutation
// pipeline.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	cattery "github.com/meadowfold/cattery"
)

const (
	// DefaultTTL is how long an issued capability stays valid.
	DefaultTTL = 15 * time.Minute

	// DefaultTimeout is the timeout for remote credential service calls.
	DefaultTimeout = 10 * time.Second
)

// Capability is a time-limited, single-object write grant: the signed URL to
// PUT bytes to, and the public URL the object will have once uploaded. The
// public URL, stripped of any query string, is what gets persisted as an
// asset src.
type Capability struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
}

// Issuer issues upload capabilities. By default it signs capability URLs
// locally with a keyed hash; with a credential service configured it defers
// to the storage provider instead, treating any error as total failure so
// callers never act on a partial batch.
type Issuer struct {
	uploadBaseURL string
	publicBaseURL string
	signer        *Signer
	ttl           time.Duration

	credentialServiceURL string
	client               *http.Client

	now    func() time.Time
	newKey func() string
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTL sets the capability lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

// WithCredentialService routes issuance through the storage provider's
// credential service instead of local signing.
func WithCredentialService(url string) IssuerOption {
	return func(i *Issuer) {
		i.credentialServiceURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client for credential service calls.
func WithHTTPClient(client *http.Client) IssuerOption {
	return func(i *Issuer) {
		i.client = client
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.now = now
	}
}

// WithKeyFunc sets the object key generator for testing.
func WithKeyFunc(fn func() string) IssuerOption {
	return func(i *Issuer) {
		i.newKey = fn
	}
}

// NewIssuer creates an issuer. uploadBaseURL is where signed PUTs land,
// publicBaseURL is the public host serving uploaded objects, and secret
// keys the capability signatures.
func NewIssuer(uploadBaseURL, publicBaseURL string, secret []byte, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		uploadBaseURL: strings.TrimSuffix(uploadBaseURL, "/"),
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		signer:        NewSigner(secret),
		ttl:           DefaultTTL,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		now: time.Now,
		newKey: func() string {
			return cattery.ObjectKeyPrefix + "/" + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns count upload capabilities, each with a fresh random object
// key. Issuance is all-or-nothing: on any error no capabilities are
// returned.
func (i *Issuer) Issue(ctx context.Context, count int) ([]Capability, error) {
	if count < 1 {
		return nil, fmt.Errorf("capability count must be at least 1, got %d", count)
	}

	if i.credentialServiceURL != "" {
		return i.issueRemote(ctx, count)
	}

	expires := i.now().Add(i.ttl).Unix()
	caps := make([]Capability, 0, count)
	for range count {
		key := i.newKey()
		sig := i.signer.Sign(key, expires)
		caps = append(caps, Capability{
			UploadURL: i.uploadBaseURL + "/" + key +
				"?exp=" + strconv.FormatInt(expires, 10) +
				"&sig=" + url.QueryEscape(sig),
			PublicURL: i.publicBaseURL + "/" + key,
		})
	}
	return caps, nil
}

// Mode reports how capabilities are issued, "local" or "remote".
func (i *Issuer) Mode() string {
	if i.credentialServiceURL != "" {
		return "remote"
	}
	return "local"
}

// issueRemote requests a capability batch from the provider's credential
// service. One request covers the whole batch, so a failure yields nothing.
func (i *Issuer) issueRemote(ctx context.Context, count int) ([]Capability, error) {
	body := strings.NewReader(fmt.Sprintf(`{"count":%d}`, count))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.credentialServiceURL+"/credentials", body)
	if err != nil {
		return nil, fmt.Errorf("creating credential request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("credential service: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Capabilities []Capability `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding credential response: %w", err)
	}
	if len(result.Capabilities) != count {
		return nil, fmt.Errorf("credential service issued %d of %d capabilities", len(result.Capabilities), count)
	}
	return result.Capabilities, nil
}

// VerifyUploadURL checks the exp/sig query parameters of a capability URL
// against the issuer's secret. Used by the development object endpoint.
func (i *Issuer) VerifyUploadURL(key string, query url.Values) error {
	expires, err := strconv.ParseInt(query.Get("exp"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid capability expiry")
	}
	if i.now().Unix() > expires {
		return fmt.Errorf("capability expired")
	}
	if !i.signer.Verify(key, expires, query.Get("sig")) {
		return fmt.Errorf("invalid capability signature")
	}
	return nil
}
