package replicate

import (
	"net/http"
	"time"

	"github.com/blueberrycongee/captionmux/internal/resilience"
)

// Option configures the Replicate client.
type Option func(*Client)

// WithAPIKey sets the API token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithModelVersion selects the caption model version.
func WithModelVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithPollInterval overrides the status poll interval. Intended for tests.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}
