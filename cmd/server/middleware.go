package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/blueberrycongee/captionmux/internal/config"
	"github.com/blueberrycongee/captionmux/internal/metrics"
	"github.com/blueberrycongee/captionmux/internal/observability"
	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
)

// keyAuth authenticates requests against the configured API keys and
// applies a per-key token bucket. Limiters live in an expiring cache so
// idle keys do not accumulate state.
type keyAuth struct {
	keys     map[string]struct{}
	limiters *gocache.Cache
	rps      rate.Limit
	burst    int
	logger   *slog.Logger
}

func newKeyAuth(cfg config.AuthConfig, logger *slog.Logger) *keyAuth {
	keys := make(map[string]struct{}, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k] = struct{}{}
	}
	return &keyAuth{
		keys:     keys,
		limiters: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		rps:      rate.Limit(cfg.PerKeyRPS),
		burst:    cfg.PerKeyBurst,
		logger:   logger,
	}
}

func (a *keyAuth) limiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Get(key); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(a.rps, a.burst)
	a.limiters.SetDefault(key, l)
	return l
}

// skipAuth lists paths reachable without credentials.
func skipAuth(path string) bool {
	return strings.HasPrefix(path, "/health/") || path == "/metrics"
}

func (a *keyAuth) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		key := bearerToken(r)
		if key == "" {
			writeAuthError(w, http.StatusUnauthorized, caperrors.TypeAuthentication,
				"An API key is required.")
			return
		}
		if _, ok := a.keys[key]; !ok {
			a.logger.Warn("rejected unknown API key", "path", r.URL.Path)
			writeAuthError(w, http.StatusUnauthorized, caperrors.TypeAuthentication,
				"The API key is invalid.")
			return
		}

		if !a.limiter(key).Allow() {
			writeAuthError(w, http.StatusTooManyRequests, caperrors.TypeRateLimit,
				"Too many requests for this API key.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func writeAuthError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errType,
	}})
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", observability.RequestIDFromContext(r.Context()),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func buildMiddlewareStack(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	var auth *keyAuth
	if cfg.Auth.Enabled {
		auth = newKeyAuth(cfg.Auth, logger)
		logger.Info("API key authentication enabled", "keys", len(cfg.Auth.APIKeys))
	}

	return func(next http.Handler) http.Handler {
		handler := next
		if auth != nil {
			handler = auth.wrap(handler)
		}
		handler = metrics.Middleware(handler)
		handler = requestLogger(logger, handler)
		handler = observability.RequestIDMiddleware(handler)
		handler = maxBody(cfg.Server.MaxBodyBytes, handler)
		return handler
	}
}

// maxBody bounds request body size before any handler reads it.
func maxBody(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
