package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blueberrycongee/captionmux/internal/config"
)

type captionHandler interface {
	HealthCheck(http.ResponseWriter, *http.Request)
	Captions(http.ResponseWriter, *http.Request)
	Prefetch(http.ResponseWriter, *http.Request)
	Ready(http.ResponseWriter, *http.Request)
	Abort(http.ResponseWriter, *http.Request)
	Queue(http.ResponseWriter, *http.Request)
}

func buildMux(cfg *config.Config, handler captionHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health/live", handler.HealthCheck)
	mux.HandleFunc("GET /health/ready", handler.HealthCheck)

	// Caption endpoints
	mux.HandleFunc("POST /v1/captions", handler.Captions)
	mux.HandleFunc("POST /v1/captions/prefetch", handler.Prefetch)
	mux.HandleFunc("POST /v1/captions/ready", handler.Ready)
	mux.HandleFunc("POST /v1/abort", handler.Abort)
	mux.HandleFunc("GET /v1/queue", handler.Queue)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	return mux
}
