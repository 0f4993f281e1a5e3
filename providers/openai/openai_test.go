package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/captionmux/internal/resilience"
	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

const baseCaption = "A beautiful sunset over the ocean"

func chatReply(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newTestClient(url string) *Client {
	return New(
		WithAPIKey("sk-test"),
		WithBaseURL(url),
		WithRetryConfig(resilience.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond}),
	)
}

func TestRewrite_ParsesOrderedJSONArray(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(chatReply(`["Golden hour magic over endless waves", "The ocean said goodnight!", "Dusk spills amber across the sea"]`)))
	}))
	defer srv.Close()

	styles := []types.Style{types.StyleCreative, types.StyleFunny, types.StylePoetic}
	variants, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption, styles, 100)
	require.NoError(t, err)

	require.Len(t, variants, 3)
	assert.Equal(t, types.StyleCreative, variants[0].Style)
	assert.Equal(t, "Golden hour magic over endless waves", variants[0].Text)
	assert.Equal(t, types.StyleFunny, variants[1].Style)
	assert.Equal(t, types.StylePoetic, variants[2].Style)

	// One request covers all styles.
	assert.Contains(t, gotReq.Messages[1].Content, "creative, funny, poetic")
	assert.Contains(t, gotReq.Messages[1].Content, baseCaption)
}

func TestRewrite_StripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply("```json\n[\"One caption here\", \"Two captions here\"]\n```")))
	}))
	defer srv.Close()

	variants, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption,
		[]types.Style{types.StyleCreative, types.StyleFunny}, 100)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "One caption here", variants[0].Text)
}

func TestRewrite_QuotedFallbackParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(`Here are your captions: 1. "Sunset dreams in gold" 2. "The sky ran out of blue"`)))
	}))
	defer srv.Close()

	variants, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption,
		[]types.Style{types.StyleCreative, types.StyleFunny}, 100)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "Sunset dreams in gold", variants[0].Text)
	assert.Equal(t, "The sky ran out of blue", variants[1].Text)
}

func TestRewrite_UnparseableResponseIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(`I cannot produce captions right now.`)))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption,
		[]types.Style{types.StyleCreative}, 100)
	e, ok := caperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, caperrors.TypeParse, e.Type)
	assert.False(t, e.Retryable)
}

func TestRewrite_FewerCaptionsThanStyles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(`["Only one caption"]`)))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption,
		[]types.Style{types.StyleCreative, types.StyleFunny}, 100)
	e, ok := caperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, caperrors.TypeParse, e.Type)
}

func TestRewrite_ContentPolicyFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Your request was rejected by our content policy.","type":"invalid_request_error","code":"content_policy_violation"}}`))
	}))
	defer srv.Close()

	styles := []types.Style{types.StyleCreative, types.StyleFunny, types.StylePoetic}
	variants, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption, styles, 100)
	require.NoError(t, err, "content policy rejections are absorbed, not raised")

	require.Len(t, variants, 3)
	seen := map[string]bool{}
	for i, v := range variants {
		assert.Equal(t, styles[i], v.Style)
		assert.NotEmpty(t, v.Text)
		lower := strings.ToLower(v.Text)
		assert.False(t, seen[lower], "fallback variants must be distinct")
		seen[lower] = true
	}
	// Deterministic: a second run yields identical texts.
	again, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption, styles, 100)
	require.NoError(t, err)
	assert.Equal(t, variants, again)
}

func TestRewrite_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantType      string
		wantRetryable bool
	}{
		{"rate limited", 429, `{"error":{"message":"rate limit"}}`, caperrors.TypeRateLimit, true},
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, caperrors.TypeAuthentication, false},
		{"bad request", 400, `{"error":{"message":"bad schema"}}`, caperrors.TypeInvalidRequest, false},
		{"server error", 500, `{}`, caperrors.TypeServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := New(WithAPIKey("k"), WithBaseURL(srv.URL),
				WithRetryConfig(resilience.RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond}))
			_, err := client.Rewrite(context.Background(), baseCaption, []types.Style{types.StyleCreative}, 100)
			require.Error(t, err)

			e, ok := caperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, e.Type)
			assert.Equal(t, tt.wantRetryable, e.Retryable)
		})
	}
}

func TestRewrite_CancellationMidFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(chatReply(`["late"]`)))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(srv.URL).Rewrite(ctx, baseCaption, []types.Style{types.StyleCreative}, 100)
	e, ok := caperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, caperrors.TypeCanceled, e.Type)
}

func TestRewrite_DuplicateTextsGetFallbacks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chatReply(`["Same caption text", "same caption TEXT"]`)))
	}))
	defer srv.Close()

	variants, err := newTestClient(srv.URL).Rewrite(context.Background(), baseCaption,
		[]types.Style{types.StyleCreative, types.StyleFunny}, 100)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.NotEqual(t,
		strings.ToLower(variants[0].Text),
		strings.ToLower(variants[1].Text),
		"no two variants may match case-insensitively")
}

func TestBuildPrompt_MentionsLengthBudget(t *testing.T) {
	prompt := buildPrompt(baseCaption, []types.Style{types.StyleMinimal, types.StyleQuirky}, 80)
	assert.Contains(t, prompt, "80")
	assert.Contains(t, prompt, "minimal, quirky")
}
