// Package provider defines the interfaces for the two external generation
// providers: one that describes an image, one that rewrites the description
// into alternate styles. Each adapter maps its provider's failures onto the
// typed error set exactly once, at this boundary.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/blueberrycongee/captionmux/pkg/types"
)

// CaptionProvider produces a base caption for an image via an asynchronous
// prediction job.
type CaptionProvider interface {
	// Name returns the provider identifier.
	Name() string

	// Submit starts a prediction for the image and returns its id.
	Submit(ctx context.Context, img types.ImageInput) (string, error)

	// Await polls the prediction until it reaches a terminal state or the
	// wall-clock budget elapses, and returns the caption text on success.
	Await(ctx context.Context, predictionID string, timeout time.Duration) (string, error)

	// Cancel asks the provider to stop the prediction. Best effort: failures
	// are swallowed, never surfaced to the caller.
	Cancel(ctx context.Context, predictionID string)
}

// RewriteProvider rewrites a base caption into the requested styles.
type RewriteProvider interface {
	// Name returns the provider identifier.
	Name() string

	// Rewrite returns one variant per requested style, in order. Content
	// policy rejections are absorbed into deterministic fallback variants
	// rather than raised.
	Rewrite(ctx context.Context, baseCaption string, styles []types.Style, maxLength int) ([]types.CaptionVariant, error)
}

// Config holds the settings shared by provider adapters.
type Config struct {
	// APIKey authenticates every call to the provider.
	APIKey string
	// BaseURL overrides the provider's default endpoint.
	BaseURL string
	// Model selects the provider-side model or model version.
	Model string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Retry knobs, applied per provider call.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}
