package telemetry

import (
	"net/http"
	"time"
)

// InstrumentedTransport wraps an http.RoundTripper with upstream request
// metrics for a named target service.
type InstrumentedTransport struct {
	base   http.RoundTripper
	target string
}

// NewInstrumentedTransport creates a new instrumented transport for a target.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper, target string) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base, target: target}
}

// RoundTrip implements http.RoundTripper with metrics recording.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		outcome := "error"
		if req.Context().Err() != nil {
			outcome = "canceled"
		}
		RecordUpstream(req.Context(), t.target, outcome, duration)
		return nil, err
	}

	outcome := "success"
	if resp.StatusCode >= 500 {
		outcome = "5xx"
	} else if resp.StatusCode >= 400 {
		outcome = "4xx"
	}

	RecordUpstream(req.Context(), t.target, outcome, duration)

	return resp, nil
}
