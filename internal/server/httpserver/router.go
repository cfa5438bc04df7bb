package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StatusFunc reports the daemon status served on /v1/status.
type StatusFunc func(ctx context.Context) (any, error)

// ReadyFunc reports whether the daemon should receive traffic.
type ReadyFunc func(ctx context.Context) error

// RouterConfig holds the route dependencies. Nil funcs disable their
// checks.
type RouterConfig struct {
	// Metrics serves /metrics.
	Metrics http.Handler

	// MetricsPath defaults to /metrics.
	MetricsPath string

	Status StatusFunc
	Ready  ReadyFunc
	Logger *slog.Logger
}

// NewRouter builds the handler tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.MetricsPath
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not_ready",
					"reason": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.Metrics != nil {
		mux.Handle("GET "+path, cfg.Metrics)
	}
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Status == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "status unavailable"})
			return
		}
		st, err := cfg.Status(r.Context())
		if err != nil {
			logger.Error("status failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	return Chain(mux, RequestID(), Recover(logger), AccessLog(logger))
}
