// Package upstream implements pool.Session against the third-party answer
// engine's HTTP/SSE API: an authenticated session bound to one account's
// cookies, and a cookie-free anonymous session used as the last fallback
// leg.
package upstream

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	baseURL          = "https://www.perplexity.ai"
)

// NewHTTPClient builds the shared *http.Client both session kinds dial
// through. When socksProxy is non-empty it routes every request through
// that SOCKS5 proxy instead of a direct dial (--socks-proxy flag or
// PPLX_SOCKS_PROXY env var).
func NewHTTPClient(timeout time.Duration, socksProxy string) (*http.Client, error) {
	transport := &http.Transport{}

	if socksProxy != "" {
		u, err := url.Parse(socksProxy)
		if err != nil {
			return nil, err
		}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

// setBrowserHeaders applies the static headers every request needs to look
// like a real browser session, plus the CSRF header a non-anonymous request
// layers on top.
func setBrowserHeaders(req *http.Request, csrfToken string) {
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", baseURL)
	req.Header.Set("Referer", baseURL+"/")
	if csrfToken != "" {
		req.Header.Set("X-Csrf-Token", csrfToken)
	}
}
