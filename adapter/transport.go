package adapter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// TransportOptions configures the HTTP client shared by the sources of one
// exchange.
type TransportOptions struct {
	Timeout         time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	LocalIP         string
	UserAgent       string
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds a pooled client. Outbound connections bind to
// LocalIP when it is set.
func NewHTTPClient(opts TransportOptions) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
	}
	if opts.LocalIP != "" {
		if ip := net.ParseIP(opts.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	var rt http.RoundTripper = transport
	if opts.UserAgent != "" {
		rt = userAgentTransport{agent: opts.UserAgent, base: transport}
	}
	return &http.Client{Transport: rt, Timeout: opts.Timeout}
}

// waitLimiter blocks until limiter grants a request. A nil limiter never
// blocks.
func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// clientSettings unwraps a client built by NewHTTPClient into its transport
// and user agent, for SDKs that build their own client.
func clientSettings(c *http.Client) (*http.Transport, string) {
	if c == nil {
		return nil, ""
	}
	switch rt := c.Transport.(type) {
	case *http.Transport:
		return rt, ""
	case userAgentTransport:
		tr, _ := rt.base.(*http.Transport)
		return tr, rt.agent
	default:
		return nil, ""
	}
}
