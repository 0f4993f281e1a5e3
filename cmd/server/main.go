// Package main is the entry point for the captionmux API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueberrycongee/captionmux"
	"github.com/blueberrycongee/captionmux/internal/config"
	"github.com/blueberrycongee/captionmux/internal/resilience"
	"github.com/blueberrycongee/captionmux/providers/openai"
	"github.com/blueberrycongee/captionmux/providers/replicate"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting captionmux server", "version", captionmux.Version)

	cfgManager, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg := cfgManager.Get()

	logger = buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	client, err := buildClient(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize caption client", "error", err)
		os.Exit(1)
	}

	handler := NewHandler(client, logger)
	mux := buildMux(cfg, handler)
	middleware := buildMiddlewareStack(cfg, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	client.Abort()
	_ = client.Close()
	_ = cfgManager.Close()
	logger.Info("server stopped")
}

// buildClient assembles the caption client from the service config.
func buildClient(cfg *config.Config, logger *slog.Logger) (*captionmux.Client, error) {
	retry := resilience.RetryConfig{
		MaxRetries:   cfg.Generation.RetryCount,
		InitialDelay: cfg.Generation.RetryBackoff,
		MaxDelay:     cfg.Generation.RetryMaxBackoff,
	}

	captionOpts := []replicate.Option{
		replicate.WithAPIKey(cfg.Providers.Replicate.APIToken),
		replicate.WithRetryConfig(retry),
	}
	if cfg.Providers.Replicate.BaseURL != "" {
		captionOpts = append(captionOpts, replicate.WithBaseURL(cfg.Providers.Replicate.BaseURL))
	}
	if cfg.Providers.Replicate.ModelVersion != "" {
		captionOpts = append(captionOpts, replicate.WithModelVersion(cfg.Providers.Replicate.ModelVersion))
	}
	if cfg.Providers.Replicate.PollInterval > 0 {
		captionOpts = append(captionOpts, replicate.WithPollInterval(cfg.Providers.Replicate.PollInterval))
	}

	rewriteOpts := []openai.Option{
		openai.WithAPIKey(cfg.Providers.OpenAI.APIKey),
		openai.WithRetryConfig(retry),
	}
	if cfg.Providers.OpenAI.BaseURL != "" {
		rewriteOpts = append(rewriteOpts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
	}
	if cfg.Providers.OpenAI.Model != "" {
		rewriteOpts = append(rewriteOpts, openai.WithModel(cfg.Providers.OpenAI.Model))
	}

	opts := []captionmux.Option{
		captionmux.WithLogger(logger),
		captionmux.WithCaptionProvider(replicate.New(captionOpts...)),
		captionmux.WithRewriteProvider(openai.New(rewriteOpts...)),
		captionmux.WithStyles(cfg.Styles()...),
		captionmux.WithMaxVariantLength(cfg.Generation.MaxVariantLength),
		captionmux.WithCaptionTimeout(cfg.Generation.CaptionTimeout),
		captionmux.WithCacheSize(cfg.Cache.MaxSize),
		captionmux.WithCacheTTL(cfg.Cache.TTL),
		captionmux.WithRequestsPerMinute(cfg.RateLimit.RequestsPerMinute),
		captionmux.WithMaxQueueDepth(cfg.RateLimit.MaxQueueDepth),
	}
	return captionmux.New(opts...)
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
