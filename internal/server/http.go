package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/metrics"
)

// HTTPServer serves the static site and accepts form submissions
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.HTTPConfig
	handler  *Handler
	metrics  *metrics.Metrics
}

// NewHTTPServer creates the HTTP server. The Prometheus endpoint is mounted
// when metrics are enabled; gatherer may be nil otherwise.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, relay Relay,
	m *metrics.Metrics, gatherer prometheus.Gatherer) (*HTTPServer, error) {

	handler, err := NewHandler(&cfg.HTTP, cfg.Relay.Ack, relay, logger, m)
	if err != nil {
		return nil, err
	}

	h := &HTTPServer{
		logger:  logger,
		config:  &cfg.HTTP,
		handler: handler,
		metrics: m,
	}

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled && gatherer != nil {
		// GET also matches HEAD; POSTs to the metrics path still reach the form handler.
		mux.Handle(http.MethodGet+" "+cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", h.withMetrics(handler))

	h.server = &http.Server{
		Addr:         cfg.HTTP.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h, nil
}

// Handler returns the root handler, including metrics collection
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := routeLabel(r)
		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, route, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, route, errorType)
		}
	})
}

// routeLabel keeps metric cardinality bounded regardless of requested paths
func routeLabel(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		if r.URL.Path == "/" {
			return "index"
		}
		return "static"
	case http.MethodPost:
		return "submit"
	default:
		return "other"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = netutil.LimitListener(ln, h.config.MaxConnections)

	h.logger.Info("HTTP server started",
		slog.String("address", ln.Addr().String()),
		slog.String("static_dir", h.handler.root),
		slog.Int("max_connections", h.config.MaxConnections),
	)

	go func() {
		if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}
