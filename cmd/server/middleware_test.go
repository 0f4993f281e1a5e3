package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/captionmux/internal/config"
)

func newAuthedHandler(t *testing.T, cfg config.AuthConfig) http.Handler {
	t.Helper()
	auth := newKeyAuth(cfg, slog.Default())
	return auth.wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func authConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:     true,
		APIKeys:     []string{"valid-key"},
		PerKeyRPS:   100,
		PerKeyBurst: 100,
		CacheTTL:    time.Minute,
	}
}

func TestKeyAuthRejectsMissingKey(t *testing.T) {
	handler := newAuthedHandler(t, authConfig())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/captions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKeyAuthRejectsUnknownKey(t *testing.T) {
	handler := newAuthedHandler(t, authConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/captions", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKeyAuthAcceptsValidKey(t *testing.T) {
	handler := newAuthedHandler(t, authConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/captions", nil)
	req.Header.Set("Authorization", "Bearer valid-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The X-API-Key header works too.
	req = httptest.NewRequest(http.MethodPost, "/v1/captions", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKeyAuthSkipsHealthAndMetrics(t *testing.T) {
	handler := newAuthedHandler(t, authConfig())

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestKeyAuthRateLimitsPerKey(t *testing.T) {
	cfg := authConfig()
	cfg.PerKeyRPS = 1
	cfg.PerKeyBurst = 2
	handler := newAuthedHandler(t, cfg)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/captions", nil)
		req.Header.Set("Authorization", "Bearer valid-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send())
	require.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send(), "burst exhausted")
}

func TestMaxBodyLimitsRequestSize(t *testing.T) {
	handler := maxBody(8, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/captions",
		strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/captions",
		strings.NewReader("this body is far too large for the limit")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
