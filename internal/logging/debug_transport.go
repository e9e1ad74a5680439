package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs every HTTP round trip at DEBUG level. Headers are never
// logged, so bearer tokens stay out of the output.
type DebugTransport struct {
	base   http.RoundTripper
	logger Logger
}

// NewDebugTransport wraps base (http.DefaultTransport when nil)
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &DebugTransport{base: base, logger: logger}
}

// RoundTrip implements http.RoundTripper
func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := t.logger.WithContext(req.Context())

	resp, err := t.base.RoundTrip(req)
	fields := []Field{
		F("method", req.Method),
		F("host", req.URL.Host),
		F("route", req.URL.Path),
		F("duration_ms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		logger.Debug("HTTP request failed", append(fields, F("error", err.Error()))...)
		return nil, err
	}
	fields = append(fields, F("status", resp.StatusCode))
	if resp.ContentLength >= 0 {
		fields = append(fields, F("bytes", resp.ContentLength))
	}
	logger.Debug("HTTP request", fields...)
	return resp, nil
}

// Client returns an http.Client that routes through this transport
func (t *DebugTransport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}
