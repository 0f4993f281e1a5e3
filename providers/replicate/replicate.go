// Package replicate implements the base-caption provider against the
// Replicate predictions API: submit an image, poll the prediction until a
// terminal state, cancel best-effort.
// API Reference: https://replicate.com/docs/reference/http
package replicate

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/captionmux/internal/resilience"
	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/provider"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "replicate"

	// DefaultBaseURL is the default Replicate API endpoint.
	DefaultBaseURL = "https://api.replicate.com/v1"

	// DefaultModelVersion is the default image captioning model version.
	DefaultModelVersion = "salesforce/blip:2e1dddc8621f72155f24cf2e0adbde548458d3cab9f00c0139eea840d0ac4746"

	// defaultPollInterval is the fixed delay between status polls.
	defaultPollInterval = time.Second
)

// Client talks to the Replicate predictions API.
type Client struct {
	apiKey       string
	baseURL      string
	version      string
	httpClient   *http.Client
	retry        resilience.RetryConfig
	pollInterval time.Duration
}

// New creates a Replicate client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:      DefaultBaseURL,
		version:      DefaultModelVersion,
		httpClient:   http.DefaultClient,
		retry:        resilience.DefaultRetryConfig(),
		pollInterval: defaultPollInterval,
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
		opts = append(opts, WithModelVersion(cfg.Model))
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

// prediction mirrors the Replicate prediction resource.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Image string `json:"image"`
	Task  string `json:"task"`
}

// Submit starts a caption prediction for the image and returns its id.
// The call is wrapped in the retry policy.
func (c *Client) Submit(ctx context.Context, img types.ImageInput) (string, error) {
	payload := predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Image: dataURL(img),
			Task:  "image_captioning",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal prediction request: %w", err)
	}

	pred, err := resilience.RunWithBackoff(ctx, c.retry, func(ctx context.Context) (*prediction, error) {
		return c.doJSON(ctx, http.MethodPost, c.baseURL+"/predictions", body)
	})
	if err != nil {
		return "", err
	}
	if pred.ID == "" {
		return "", caperrors.NewParseError(ProviderName, "The caption service returned a response without a prediction id.")
	}
	return pred.ID, nil
}

// Await polls the prediction every second until it reaches a terminal state,
// up to floor(timeout/interval) attempts. It returns the first output string
// on success.
func (c *Client) Await(ctx context.Context, predictionID string, timeout time.Duration) (string, error) {
	attempts := int(timeout / c.pollInterval)
	if attempts < 1 {
		attempts = 1
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 0; attempt < attempts; attempt++ {
		pred, err := resilience.RunWithBackoff(ctx, c.retry, func(ctx context.Context) (*prediction, error) {
			return c.doJSON(ctx, http.MethodGet, c.baseURL+"/predictions/"+predictionID, nil)
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if errors.Is(err, context.Canceled) {
				return "", caperrors.NewCanceledError("The caption generation was canceled.")
			}
			return "", err
		}

		switch types.PredictionState(pred.Status) {
		case types.PredictionSucceeded:
			text, ok := firstString(pred.Output)
			if !ok || strings.TrimSpace(text) == "" {
				return "", caperrors.NewParseError(ProviderName, "The caption service returned an empty result.")
			}
			return strings.TrimSpace(text), nil
		case types.PredictionFailed:
			detail := pred.Error
			if detail == "" {
				detail = "no further detail was provided"
			}
			return "", caperrors.NewModelFailureError(ProviderName,
				fmt.Sprintf("The caption model failed to process the image (%s).", detail))
		case types.PredictionCanceled:
			return "", caperrors.NewCanceledError("The caption generation was canceled.")
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", caperrors.NewCanceledError("The caption generation was canceled.")
			}
			return "", caperrors.NewTimeoutError(ProviderName, "The caption request timed out. Please try again.")
		case <-time.After(c.pollInterval):
		}
	}

	return "", caperrors.NewTimeoutError(ProviderName, "The caption request timed out. Please try again.")
}

// Cancel asks Replicate to stop the prediction. Failures are swallowed.
func (c *Client) Cancel(ctx context.Context, predictionID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/predictions/"+predictionID+"/cancel", nil)
	if err != nil {
		return
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// doJSON performs one API call and parses the prediction body, mapping
// non-success statuses onto the typed error set.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte) (*prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.mapError(resp.StatusCode, respBody)
	}

	var pred prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, caperrors.NewParseError(ProviderName, "The caption service returned a response that could not be read.")
	}
	return &pred, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// mapError converts a non-success status to a user-facing typed error,
// deciding retryability once per the status rules.
func (c *Client) mapError(statusCode int, body []byte) error {
	var errResp struct {
		Detail string `json:"detail"`
	}
	detail := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		detail = strings.TrimSpace(errResp.Detail)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return caperrors.NewRateLimitError(ProviderName, "Too many requests. Please try again shortly.")
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return caperrors.NewAuthenticationError(ProviderName, "Authentication with the caption service failed.")
	case statusCode == http.StatusNotFound:
		return caperrors.NewNotFoundError(ProviderName, "The requested caption model was not found.")
	case statusCode == http.StatusBadRequest:
		msg := "The caption service rejected the image payload."
		if detail != "" {
			msg = fmt.Sprintf("The caption service rejected the image payload: %s.", strings.TrimSuffix(detail, "."))
		}
		return caperrors.NewInvalidRequestError(ProviderName, msg)
	case statusCode >= 500:
		return caperrors.NewServiceUnavailableError(ProviderName, "The caption service is temporarily unavailable. Please try again later.")
	default:
		e := caperrors.NewInternalError(ProviderName, "The caption service returned an unexpected error.")
		e.StatusCode = statusCode
		e.Retryable = resilience.RetryableStatus(statusCode)
		return e
	}
}

// dataURL encodes the image as a base64 data URL, the input form Replicate
// accepts for binary payloads.
func dataURL(img types.ImageInput) string {
	return "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// firstString unwraps the prediction output to its first string: outputs are
// either a plain string or an array of strings.
func firstString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return firstString(arr[0])
	}
	return "", false
}
