package scraper

import (
	"net/http"
	"time"
)

// ClientType selects the header preset used for fetches.
type ClientType string

const (
	// BrowserClient sends browser-like headers. Some sites answer 406 to
	// anything that does not look like a browser.
	BrowserClient ClientType = "browser"

	// CurlClient sends curl-like headers. Cloudflare-protected sites often
	// allow simple tools while blocking browser impersonation.
	CurlClient ClientType = "curl"
)

// HTTPClient wraps an http.Client with a header preset.
type HTTPClient struct {
	client     *http.Client
	clientType ClientType
}

// NewHTTPClient creates a client with the given preset and a page-fetch
// timeout.
func NewHTTPClient(clientType ClientType, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		clientType: clientType,
	}
}

// Do executes a request with the preset headers applied.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	return c.client.Do(req)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	switch c.clientType {
	case BrowserClient:
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Connection", "keep-alive")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
	case CurlClient:
		req.Header.Set("User-Agent", "curl/8.7.1")
	}
}
