package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the release version baked into the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent on every outbound request to the FleetAPI.
func UserAgent() string {
	return "FleetProxy/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller may reuse the request so never modify its headers
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: WithUserAgent(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// WithUserAgent wraps rt so that every request carries our User-Agent.
func WithUserAgent(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &userAgentTransport{
		transport: rt,
		userAgent: UserAgent(),
	}
}
