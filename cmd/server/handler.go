package main

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/blueberrycongee/captionmux"
	caperrors "github.com/blueberrycongee/captionmux/pkg/errors"
	"github.com/blueberrycongee/captionmux/pkg/types"
)

// Handler serves the caption HTTP API on top of a captionmux client.
type Handler struct {
	client *captionmux.Client
	logger *slog.Logger
}

// NewHandler creates an API handler.
func NewHandler(client *captionmux.Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// captionRequest is the request body for caption endpoints. The image
// travels base64-encoded alongside its MIME type.
type captionRequest struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type"`
	Regenerate  bool   `json:"regenerate,omitempty"`
}

type readyResponse struct {
	Ready bool `json:"ready"`
}

type queueResponse struct {
	Depth      int   `json:"depth"`
	WaitTimeMs int64 `json:"wait_time_ms"`
}

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Captions handles POST /v1/captions. With regenerate set the cache is
// bypassed and fresh provider calls are made.
func (h *Handler) Captions(w http.ResponseWriter, r *http.Request) {
	img, req, err := h.decodeImage(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var result *types.GenerationResult
	if req.Regenerate {
		result, err = h.client.Regenerate(r.Context(), img)
	} else {
		result, err = h.client.Generate(r.Context(), img)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// Prefetch handles POST /v1/captions/prefetch. It kicks off a background
// generation and returns immediately.
func (h *Handler) Prefetch(w http.ResponseWriter, r *http.Request) {
	img, _, err := h.decodeImage(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.client.Prefetch(img)
	w.WriteHeader(http.StatusAccepted)
}

// Ready handles POST /v1/captions/ready and reports whether a result for
// the image is already cached.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	img, _, err := h.decodeImage(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, readyResponse{Ready: h.client.IsReady(img)})
}

// Abort handles POST /v1/abort and cancels every outstanding generation.
func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	h.client.Abort()
	w.WriteHeader(http.StatusNoContent)
}

// Queue handles GET /v1/queue.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, queueResponse{
		Depth:      h.client.QueueSize(),
		WaitTimeMs: h.client.WaitTime().Milliseconds(),
	})
}

// HealthCheck handles the liveness and readiness probes.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) decodeImage(r *http.Request) (types.ImageInput, *captionRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return types.ImageInput{}, nil, caperrors.NewValidationError("The request body could not be read.")
	}

	var req captionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return types.ImageInput{}, nil, caperrors.NewValidationError("The request body must be valid JSON.")
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		return types.ImageInput{}, nil, caperrors.NewValidationError("The image field must be base64-encoded.")
	}

	return types.ImageInput{Data: data, ContentType: req.ContentType}, &req, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := ErrorDetail{
		Message: "An internal error occurred.",
		Type:    caperrors.TypeInternal,
	}

	if e, ok := caperrors.As(err); ok {
		status = e.StatusCode
		detail.Message = e.Message
		detail.Type = e.Type
	} else {
		h.logger.Error("unclassified handler error", "error", err)
	}

	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Error: detail}); encErr != nil {
		h.logger.Error("failed to encode error response", "error", encErr)
	}
}
