package captionmux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/captionmux/internal/cache"
	"github.com/blueberrycongee/captionmux/internal/imaging"
	"github.com/blueberrycongee/captionmux/internal/metrics"
	"github.com/blueberrycongee/captionmux/internal/resilience"
	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/provider"
	"github.com/blueberrycongee/captionmux/pkg/types"
	"github.com/blueberrycongee/captionmux/providers/openai"
	"github.com/blueberrycongee/captionmux/providers/replicate"
)

// session tracks one outstanding generation so Abort can reach it: the
// cancellation handle for the whole pipeline plus the provider-side
// prediction id once known.
type session struct {
	cancel       context.CancelFunc
	predictionID string
}

// Client orchestrates caption generation: it validates and fingerprints
// images, serves cached results, coalesces concurrent identical requests,
// rate-limits outbound work, and drives the two provider clients.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	config    *ClientConfig
	logger    *slog.Logger
	captioner provider.CaptionProvider
	rewriter  provider.RewriteProvider
	cache     *cache.ResultCache
	queue     *resilience.Queue[*types.GenerationResult]

	// mu guards the in-flight registry and the session registry. The cache
	// and queue have their own synchronization.
	mu       sync.Mutex
	inflight map[string]*flight
	sessions map[string]*session
}

// New creates a captionmux client with the given options.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Styles) < 3 || len(cfg.Styles) > 5 {
		return nil, fmt.Errorf("between 3 and 5 styles required, got %d", len(cfg.Styles))
	}
	for _, s := range cfg.Styles {
		if !s.Valid() {
			return nil, fmt.Errorf("unknown style %q", s)
		}
	}

	c := &Client{
		config:   cfg,
		logger:   cfg.Logger,
		inflight: make(map[string]*flight),
		sessions: make(map[string]*session),
	}

	c.captioner = cfg.CaptionProvider
	if c.captioner == nil {
		if cfg.Credentials.ReplicateAPIToken == "" {
			return nil, fmt.Errorf("a caption provider or a Replicate API token is required")
		}
		c.captioner = replicate.NewFromConfig(provider.Config{
			APIKey:       cfg.Credentials.ReplicateAPIToken,
			HTTPClient:   cfg.HTTPClient,
			MaxRetries:   cfg.RetryCount,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     cfg.RetryMaxBackoff,
		})
	}

	c.rewriter = cfg.RewriteProvider
	if c.rewriter == nil {
		if cfg.Credentials.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("a rewrite provider or an OpenAI API key is required")
		}
		c.rewriter = openai.NewFromConfig(provider.Config{
			APIKey:       cfg.Credentials.OpenAIAPIKey,
			HTTPClient:   cfg.HTTPClient,
			MaxRetries:   cfg.RetryCount,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     cfg.RetryMaxBackoff,
		})
	}

	c.cache = cache.New(cache.Config{
		MaxSize: cfg.CacheSize,
		TTL:     cfg.CacheTTL,
	})
	c.queue = resilience.NewQueue[*types.GenerationResult](resilience.QueueConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxDepth:          cfg.MaxQueueDepth,
		Logger:            cfg.Logger,
	})

	c.logger.Info("captionmux client initialized",
		"caption_provider", c.captioner.Name(),
		"rewrite_provider", c.rewriter.Name(),
		"cache_size", cfg.CacheSize,
		"requests_per_minute", cfg.RequestsPerMinute,
	)
	return c, nil
}

// Generate produces the captions for an image. Cached results return
// immediately; concurrent calls for the same image coalesce onto a single
// generation, and every joiner receives the identical result.
func (c *Client) Generate(ctx context.Context, img types.ImageInput) (*types.GenerationResult, error) {
	if err := imaging.Validate(img); err != nil {
		metrics.GenerationsTotal.WithLabelValues("generate", "invalid").Inc()
		return nil, err
	}
	key := imaging.Fingerprint(img.Data)

	if res := c.cache.Get(key); res != nil {
		metrics.CacheHits.Inc()
		c.logger.Debug("cache hit", "fingerprint", key)
		return res, nil
	}
	metrics.CacheMisses.Inc()

	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		metrics.GenerationsCoalesced.Inc()
		c.logger.Debug("joining in-flight generation", "fingerprint", key)
		return f.wait(ctx)
	}
	f := newFlight()
	c.inflight[key] = f
	c.mu.Unlock()

	c.start(ctx, img, key, f, true)
	return f.wait(ctx)
}

// Regenerate runs the identical pipeline but bypasses the cache read and
// never writes the result back: it always issues fresh provider calls.
func (c *Client) Regenerate(ctx context.Context, img types.ImageInput) (*types.GenerationResult, error) {
	if err := imaging.Validate(img); err != nil {
		metrics.GenerationsTotal.WithLabelValues("regenerate", "invalid").Inc()
		return nil, err
	}
	key := imaging.Fingerprint(img.Data)

	// At most one generation per fingerprint at any time, so a regenerate
	// issued while a fresh generation is already in flight joins it.
	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		metrics.GenerationsCoalesced.Inc()
		return f.wait(ctx)
	}
	f := newFlight()
	c.inflight[key] = f
	c.mu.Unlock()

	c.start(ctx, img, key, f, false)
	return f.wait(ctx)
}

// Prefetch warms the cache speculatively: it runs the Generate pipeline in
// the background and swallows every error.
func (c *Client) Prefetch(img types.ImageInput) {
	go func() {
		// The prefetch outlives the caller, so it carries its own context.
		if _, err := c.Generate(context.Background(), img); err != nil {
			c.logger.Debug("prefetch failed", "error", err)
		}
	}()
}

// IsReady reports whether a result for the image is already cached.
func (c *Client) IsReady(img types.ImageInput) bool {
	if imaging.Validate(img) != nil {
		return false
	}
	return c.cache.Has(imaging.Fingerprint(img.Data))
}

// Abort best-effort cancels every outstanding generation: in-flight rewrite
// calls stop via their contexts, and any known prediction gets one
// provider-side cancel call. Local handles clear whether or not those
// cancels succeed. Results already cached stay cached.
func (c *Client) Abort() {
	c.mu.Lock()
	active := c.sessions
	c.sessions = make(map[string]*session)
	c.mu.Unlock()

	for _, s := range active {
		s.cancel()
		if s.predictionID != "" {
			go c.captioner.Cancel(context.Background(), s.predictionID)
		}
	}
	if len(active) > 0 {
		c.logger.Info("aborted outstanding generations", "count", len(active))
	}
}

// WaitTime estimates how long a new request would wait behind the rate
// limiter. Zero when under the limit.
func (c *Client) WaitTime() time.Duration {
	return c.queue.WaitTime()
}

// QueueSize returns the number of requests queued behind the rate limiter.
func (c *Client) QueueSize() int {
	return c.queue.Len()
}

// CacheStats returns a snapshot of the result cache counters.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// ClearCache drops every cached result.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// Close rejects queued work and releases resources.
func (c *Client) Close() error {
	c.queue.Clear()
	c.cache.Clear()
	if c.config.HTTPClient != nil {
		c.config.HTTPClient.CloseIdleConnections()
	}
	c.logger.Info("captionmux client closed")
	return nil
}

// start submits the generation through the rate limiter and wires its
// settlement back to the flight. The in-flight registration is removed when
// the generation settles, success or failure.
func (c *Client) start(ctx context.Context, img types.ImageInput, key string, f *flight, store bool) {
	// The generation is shared by all joiners, so it must not die with the
	// first caller's context; Abort owns its cancellation instead.
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	promise, err := c.queue.Enqueue(func() (*types.GenerationResult, error) {
		return c.performGeneration(genCtx, img, key, store)
	})
	if err != nil {
		cancel()
		c.finish(key, f, nil, caperrors.NewRateLimitError("",
			"The request queue is full. Please try again shortly."))
		return
	}
	metrics.QueueDepth.Set(float64(c.queue.Len()))

	go func() {
		defer cancel()
		res, err := promise.Wait(context.Background())
		metrics.QueueDepth.Set(float64(c.queue.Len()))
		if errors.Is(err, resilience.ErrQueueCleared) {
			err = caperrors.NewCanceledError("The caption generation was canceled.")
		}
		c.finish(key, f, res, err)
	}()
}

// finish settles a flight and drops its in-flight registration.
func (c *Client) finish(key string, f *flight, res *types.GenerationResult, err error) {
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	f.settle(res, err)
}

// performGeneration drives the provider chain for one image: submit the
// prediction, await the base caption, rewrite it into the configured
// styles, assemble the result, and (for Generate) cache it.
func (c *Client) performGeneration(ctx context.Context, img types.ImageInput, key string, store bool) (*types.GenerationResult, error) {
	operation := "regenerate"
	if store {
		operation = "generate"
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	sessID := uuid.NewString()
	s := &session{cancel: cancel}
	c.mu.Lock()
	c.sessions[sessID] = s
	c.mu.Unlock()
	defer func() {
		s.cancel()
		c.mu.Lock()
		delete(c.sessions, sessID)
		c.mu.Unlock()
	}()

	captionStart := time.Now()
	predictionID, err := c.captioner.Submit(ctx, img)
	if err != nil {
		return nil, c.asGenerationError(operation, err)
	}

	// Abort may have swapped the session registry while Submit was on the
	// wire; in that case the cancel falls to us, since Abort never saw the
	// prediction id.
	c.mu.Lock()
	if _, ok := c.sessions[sessID]; !ok {
		c.mu.Unlock()
		go c.captioner.Cancel(context.Background(), predictionID)
		metrics.GenerationsTotal.WithLabelValues(operation, "canceled").Inc()
		return nil, caperrors.NewCanceledError("The caption generation was canceled.")
	}
	s.predictionID = predictionID
	c.mu.Unlock()
	c.logger.Debug("prediction submitted", "fingerprint", key)

	baseCaption, err := c.captioner.Await(ctx, predictionID, c.config.CaptionTimeout)
	metrics.ProviderLatency.WithLabelValues(c.captioner.Name(), "caption").Observe(time.Since(captionStart).Seconds())
	if err != nil {
		return nil, c.asGenerationError(operation, err)
	}

	rewriteStart := time.Now()
	variants, err := c.rewriter.Rewrite(ctx, baseCaption, c.config.Styles, c.config.MaxVariantLength)
	metrics.ProviderLatency.WithLabelValues(c.rewriter.Name(), "rewrite").Observe(time.Since(rewriteStart).Seconds())
	if err != nil {
		return nil, c.asGenerationError(operation, err)
	}

	result := &types.GenerationResult{
		BaseCaption:      baseCaption,
		Variants:         variants,
		GenerationTimeMs: time.Since(start).Milliseconds(),
	}
	if store {
		c.cache.Set(key, result)
	}

	metrics.GenerationsTotal.WithLabelValues(operation, "success").Inc()
	c.logger.Info("generation complete",
		"fingerprint", key,
		"variants", len(variants),
		"elapsed_ms", result.GenerationTimeMs,
	)
	return result, nil
}

// asGenerationError re-raises provider-originated errors verbatim, turns a
// cancellation into the canceled error, and wraps anything unclassified in
// a generic failure so callers never see internal details.
func (c *Client) asGenerationError(operation string, err error) error {
	if e, ok := caperrors.As(err); ok {
		metrics.GenerationsTotal.WithLabelValues(operation, "error").Inc()
		metrics.ProviderErrors.WithLabelValues(e.Provider, e.Type).Inc()
		return e
	}
	if errors.Is(err, context.Canceled) {
		metrics.GenerationsTotal.WithLabelValues(operation, "canceled").Inc()
		return caperrors.NewCanceledError("The caption generation was canceled.")
	}
	metrics.GenerationsTotal.WithLabelValues(operation, "error").Inc()
	c.logger.Warn("generation failed", "error", err)
	return caperrors.NewInternalError("", "Caption generation failed. Please try again.")
}
