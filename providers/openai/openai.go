// Package openai implements the rewrite provider against the OpenAI chat
// completions API. One call covers every requested style; the response is
// parsed as an ordered list of rewrites.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/captionmux/internal/resilience"
	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/provider"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the default rewrite model.
	DefaultModel = "gpt-4o-mini"
)

// Client talks to the OpenAI chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// New creates an OpenAI client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		httpClient: http.DefaultClient,
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client from a shared provider config.
func NewFromConfig(cfg provider.Config) *Client {
	opts := []Option{WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.MaxRetries > 0 || cfg.InitialDelay > 0 {
		retry := resilience.DefaultRetryConfig()
		if cfg.MaxRetries > 0 {
			retry.MaxRetries = cfg.MaxRetries
		}
		if cfg.InitialDelay > 0 {
			retry.InitialDelay = cfg.InitialDelay
		}
		if cfg.MaxDelay > 0 {
			retry.MaxDelay = cfg.MaxDelay
		}
		opts = append(opts, WithRetryConfig(retry))
	}
	return New(opts...)
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return ProviderName
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Rewrite asks the model for one rewrite per requested style, in order.
// The caller's context cancels the call mid-flight. A content policy
// rejection is absorbed: the method synthesizes deterministic fallback
// variants from the base caption instead of failing the generation.
func (c *Client) Rewrite(ctx context.Context, baseCaption string, styles []types.Style, maxLength int) ([]types.CaptionVariant, error) {
	if len(styles) == 0 {
		return nil, caperrors.NewInvalidRequestError(ProviderName, "At least one caption style must be requested.")
	}

	content, err := resilience.RunWithBackoff(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.complete(ctx, buildPrompt(baseCaption, styles, maxLength))
	})
	if err != nil {
		if caperrors.IsContentPolicy(err) {
			return fallbackVariants(baseCaption, styles, maxLength), nil
		}
		if ctx.Err() != nil {
			return nil, caperrors.NewCanceledError("The caption rewrite was canceled.")
		}
		return nil, err
	}

	texts, err := parseRewrites(content)
	if err != nil {
		return nil, err
	}
	if len(texts) < len(styles) {
		return nil, caperrors.NewParseError(ProviderName,
			"The rewrite service returned fewer captions than requested.")
	}

	return assembleVariants(baseCaption, styles, texts, maxLength), nil
}

// complete performs one chat completion call and returns the message text.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You rewrite image captions in requested styles. Respond with a JSON array of strings only, one string per style, in the order given."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.8,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.baseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", c.mapError(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil || len(chatResp.Choices) == 0 {
		return "", caperrors.NewParseError(ProviderName, "The rewrite service returned a response that could not be read.")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// mapError converts a non-success status to a user-facing typed error.
// Content policy rejections get their own type so Rewrite can absorb them.
func (c *Client) mapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	message := ""
	code := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error.Message
		code = errResp.Error.Code
		if code == "" {
			code = errResp.Error.Type
		}
	}

	if isContentPolicy(code, message) {
		return caperrors.NewContentPolicyError(ProviderName, "The rewrite request was declined by the content filter.")
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return caperrors.NewRateLimitError(ProviderName, "Too many requests. Please try again shortly.")
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return caperrors.NewAuthenticationError(ProviderName, "Authentication with the rewrite service failed.")
	case statusCode == http.StatusNotFound:
		return caperrors.NewNotFoundError(ProviderName, "The requested rewrite model was not found.")
	case statusCode == http.StatusBadRequest:
		msg := "The rewrite service rejected the request."
		if message != "" {
			msg = fmt.Sprintf("The rewrite service rejected the request: %s.", strings.TrimSuffix(message, "."))
		}
		return caperrors.NewInvalidRequestError(ProviderName, msg)
	case statusCode >= 500:
		return caperrors.NewServiceUnavailableError(ProviderName, "The rewrite service is temporarily unavailable. Please try again later.")
	default:
		e := caperrors.NewInternalError(ProviderName, "The rewrite service returned an unexpected error.")
		e.StatusCode = statusCode
		e.Retryable = resilience.RetryableStatus(statusCode)
		return e
	}
}

func isContentPolicy(code, message string) bool {
	if code == "content_policy_violation" || code == "content_filter" {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "content policy") || strings.Contains(lower, "safety system")
}

// buildPrompt covers every requested style in a single instruction.
func buildPrompt(baseCaption string, styles []types.Style, maxLength int) string {
	names := make([]string, len(styles))
	for i, s := range styles {
		names[i] = string(s)
	}
	return fmt.Sprintf(
		"Rewrite this image caption in %d styles (%s), one rewrite per style, each at most %d characters:\n\n%q",
		len(styles), strings.Join(names, ", "), maxLength, baseCaption)
}

var quotedRe = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"`)

// parseRewrites interprets the model output as an ordered list of strings.
// Structured JSON parsing is tried first (with code fences stripped); if
// that fails, quoted substrings are extracted; if that also fails the
// response is unusable.
func parseRewrites(content string) ([]string, error) {
	trimmed := stripCodeFence(content)

	var list []string
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil && len(list) > 0 {
		return list, nil
	}

	matches := quotedRe.FindAllStringSubmatch(trimmed, -1)
	if len(matches) > 0 {
		out := make([]string, 0, len(matches))
		for _, m := range matches {
			out = append(out, m[1])
		}
		return out, nil
	}

	return nil, caperrors.NewParseError(ProviderName, "The rewrite service response could not be interpreted.")
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// assembleVariants maps parsed texts positionally onto the requested styles.
// Duplicate texts (case-insensitive) are replaced with the style's
// deterministic fallback so no two variants read the same.
func assembleVariants(baseCaption string, styles []types.Style, texts []string, maxLength int) []types.CaptionVariant {
	variants := make([]types.CaptionVariant, 0, len(styles))
	seen := make(map[string]bool, len(styles))

	for i, style := range styles {
		text := strings.TrimSpace(texts[i])
		if text == "" || seen[strings.ToLower(text)] {
			text = fallbackText(baseCaption, style, maxLength)
		}
		if seen[strings.ToLower(text)] {
			text = truncate(text+" ("+string(style)+")", maxLength+len(string(style))+3)
		}
		seen[strings.ToLower(text)] = true
		variants = append(variants, types.CaptionVariant{Text: text, Style: style})
	}
	return variants
}

// fallbackVariants synthesizes one deterministic variant per style from the
// base caption. Used when the rewrite call was declined by the content
// filter: generation must not hard-fail on a filtered rewrite.
func fallbackVariants(baseCaption string, styles []types.Style, maxLength int) []types.CaptionVariant {
	variants := make([]types.CaptionVariant, 0, len(styles))
	for _, style := range styles {
		variants = append(variants, types.CaptionVariant{
			Text:  fallbackText(baseCaption, style, maxLength),
			Style: style,
		})
	}
	return variants
}

// fallbackText applies a fixed per-style transform to the base caption.
func fallbackText(baseCaption string, style types.Style, maxLength int) string {
	base := strings.TrimSpace(baseCaption)
	var text string
	switch style {
	case types.StyleCreative:
		text = "Picture this: " + lowerFirst(base)
	case types.StyleFunny:
		text = base + " ... no caption needed!"
	case types.StylePoetic:
		text = "Like a painting, " + lowerFirst(base)
	case types.StyleMinimal:
		text = firstWords(base, 6)
	case types.StyleDramatic:
		text = "Behold! " + base + "!"
	case types.StyleQuirky:
		text = base + ", but make it quirky"
	default:
		text = base
	}
	return truncate(text, maxLength)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
