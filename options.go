package captionmux

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/blueberrycongee/captionmux/pkg/provider"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

// Credentials holds the API credentials for the two providers.
type Credentials struct {
	// ReplicateAPIToken authenticates base-caption prediction calls.
	ReplicateAPIToken string
	// OpenAIAPIKey authenticates rewrite calls.
	OpenAIAPIKey string
}

// ClientConfig holds all configuration for the captionmux client.
type ClientConfig struct {
	// Caching
	CacheSize int
	CacheTTL  time.Duration

	// Outbound rate limiting
	RequestsPerMinute int
	MaxQueueDepth     int // 0 = unbounded

	// Retry policy for provider calls
	RetryCount      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration

	// CaptionTimeout is the wall-clock budget for awaiting a prediction.
	CaptionTimeout time.Duration

	// Styles requested for every generation; 3 to 5 entries.
	Styles []types.Style

	// MaxVariantLength caps each rewrite, in characters.
	MaxVariantLength int

	// Providers. When nil, built-in Replicate and OpenAI clients are
	// constructed from Credentials.
	CaptionProvider provider.CaptionProvider
	RewriteProvider provider.RewriteProvider
	Credentials     Credentials

	// HTTP
	HTTPClient *http.Client

	// Logging
	Logger *slog.Logger
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		CacheSize:         50,
		CacheTTL:          time.Hour,
		RequestsPerMinute: 10,
		RetryCount:        3,
		RetryBackoff:      time.Second,
		RetryMaxBackoff:   10 * time.Second,
		CaptionTimeout:    30 * time.Second,
		Styles:            []types.Style{types.StyleCreative, types.StyleFunny, types.StylePoetic},
		MaxVariantLength:  100,
		Logger:            slog.Default(),
	}
}

// WithCacheSize sets the maximum number of cached results.
func WithCacheSize(n int) Option {
	return func(c *ClientConfig) {
		c.CacheSize = n
	}
}

// WithCacheTTL sets how long cached results stay valid.
func WithCacheTTL(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.CacheTTL = d
	}
}

// WithRequestsPerMinute sets the outbound dispatch budget.
func WithRequestsPerMinute(n int) Option {
	return func(c *ClientConfig) {
		c.RequestsPerMinute = n
	}
}

// WithMaxQueueDepth bounds the rate limiter queue; 0 means unbounded.
func WithMaxQueueDepth(n int) Option {
	return func(c *ClientConfig) {
		c.MaxQueueDepth = n
	}
}

// WithRetryCount sets the number of retries after the initial attempt.
func WithRetryCount(n int) Option {
	return func(c *ClientConfig) {
		c.RetryCount = n
	}
}

// WithRetryBackoff sets the initial backoff delay.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryBackoff = d
	}
}

// WithRetryMaxBackoff caps the exponential backoff.
func WithRetryMaxBackoff(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.RetryMaxBackoff = d
	}
}

// WithCaptionTimeout sets the wall-clock budget for awaiting a prediction.
func WithCaptionTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		c.CaptionTimeout = d
	}
}

// WithStyles sets the styles requested for every generation.
func WithStyles(styles ...types.Style) Option {
	return func(c *ClientConfig) {
		c.Styles = styles
	}
}

// WithMaxVariantLength caps each rewrite, in characters.
func WithMaxVariantLength(n int) Option {
	return func(c *ClientConfig) {
		c.MaxVariantLength = n
	}
}

// WithCredentials sets the provider credentials used by the built-in
// Replicate and OpenAI clients.
func WithCredentials(creds Credentials) Option {
	return func(c *ClientConfig) {
		c.Credentials = creds
	}
}

// WithCaptionProvider injects a custom base-caption provider.
func WithCaptionProvider(p provider.CaptionProvider) Option {
	return func(c *ClientConfig) {
		c.CaptionProvider = p
	}
}

// WithRewriteProvider injects a custom rewrite provider.
func WithRewriteProvider(p provider.RewriteProvider) Option {
	return func(c *ClientConfig) {
		c.RewriteProvider = p
	}
}

// WithHTTPClient overrides the HTTP client passed to built-in providers.
func WithHTTPClient(client *http.Client) Option {
	return func(c *ClientConfig) {
		c.HTTPClient = client
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}
