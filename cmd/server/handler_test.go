package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/captionmux"
	"github.com/blueberrycongee/captionmux/internal/config"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

type fakeCaptioner struct {
	caption string
	submits atomic.Int32
}

func (f *fakeCaptioner) Name() string { return "fake-captioner" }

func (f *fakeCaptioner) Submit(ctx context.Context, img types.ImageInput) (string, error) {
	f.submits.Add(1)
	return "pred-1", nil
}

func (f *fakeCaptioner) Await(ctx context.Context, predictionID string, timeout time.Duration) (string, error) {
	return f.caption, nil
}

func (f *fakeCaptioner) Cancel(ctx context.Context, predictionID string) {}

type fakeRewriter struct{}

func (f *fakeRewriter) Name() string { return "fake-rewriter" }

func (f *fakeRewriter) Rewrite(ctx context.Context, baseCaption string, styles []types.Style, maxLength int) ([]types.CaptionVariant, error) {
	variants := make([]types.CaptionVariant, 0, len(styles))
	for _, style := range styles {
		variants = append(variants, types.CaptionVariant{
			Text:  string(style) + ": " + baseCaption,
			Style: style,
		})
	}
	return variants, nil
}

func newTestServer(t *testing.T, captioner *fakeCaptioner) (*httptest.Server, *config.Config) {
	t.Helper()

	client, err := captionmux.New(
		captionmux.WithCaptionProvider(captioner),
		captionmux.WithRewriteProvider(&fakeRewriter{}),
		captionmux.WithRequestsPerMinute(6000),
		captionmux.WithLogger(slog.Default()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.DefaultConfig()
	handler := NewHandler(client, slog.Default())
	middleware := buildMiddlewareStack(cfg, slog.Default())

	srv := httptest.NewServer(middleware(buildMux(cfg, handler)))
	t.Cleanup(srv.Close)
	return srv, cfg
}

func captionBody(t *testing.T, contentType string, regenerate bool) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(captionRequest{
		Image:       base64.StdEncoding.EncodeToString([]byte("fake image bytes")),
		ContentType: contentType,
		Regenerate:  regenerate,
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestCaptionsEndpoint(t *testing.T) {
	captioner := &fakeCaptioner{caption: "A beautiful sunset over the ocean"}
	srv, _ := newTestServer(t, captioner)

	resp, err := http.Post(srv.URL+"/v1/captions", "application/json",
		captionBody(t, "image/jpeg", false))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result types.GenerationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "A beautiful sunset over the ocean", result.BaseCaption)
	assert.Len(t, result.Variants, 3)
}

func TestCaptionsValidationError(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCaptioner{caption: "x"})

	resp, err := http.Post(srv.URL+"/v1/captions", "application/json",
		captionBody(t, "application/pdf", false))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "validation_error", envelope.Error.Type)
	assert.NotEmpty(t, envelope.Error.Message)
}

func TestCaptionsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCaptioner{caption: "x"})

	resp, err := http.Post(srv.URL+"/v1/captions", "application/json",
		bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCaptionsRegenerate(t *testing.T) {
	captioner := &fakeCaptioner{caption: "a boat on a lake"}
	srv, _ := newTestServer(t, captioner)

	resp, err := http.Post(srv.URL+"/v1/captions", "application/json",
		captionBody(t, "image/png", false))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/captions", "application/json",
		captionBody(t, "image/png", true))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int32(2), captioner.submits.Load(), "regenerate must bypass the cache")
}

func TestPrefetchAndReadyEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCaptioner{caption: "a sleeping cat"})

	resp, err := http.Post(srv.URL+"/v1/captions/ready", "application/json",
		captionBody(t, "image/webp", false))
	require.NoError(t, err)
	var ready readyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	resp.Body.Close()
	assert.False(t, ready.Ready)

	resp, err = http.Post(srv.URL+"/v1/captions/prefetch", "application/json",
		captionBody(t, "image/webp", false))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Post(srv.URL+"/v1/captions/ready", "application/json",
			captionBody(t, "image/webp", false))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var ready readyResponse
		if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
			return false
		}
		return ready.Ready
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAbortEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCaptioner{caption: "x"})

	resp, err := http.Post(srv.URL+"/v1/abort", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestQueueEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCaptioner{caption: "x"})

	resp, err := http.Get(srv.URL + "/v1/queue")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var q queueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	assert.Equal(t, 0, q.Depth)
	assert.Equal(t, int64(0), q.WaitTimeMs)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCaptioner{caption: "x"})

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
