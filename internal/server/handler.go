package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skypro1111/form-relay-service/internal/config"
	"github.com/skypro1111/form-relay-service/internal/metrics"
	"github.com/skypro1111/form-relay-service/internal/relay"
)

const (
	indexDocument   = "index.html"
	errorDocument   = "error.html"
	messageLocation = "/message.html"
	fallbackType    = "text/plain"
)

// Relay forwards a raw form payload to the ingest server
type Relay interface {
	Send(ctx context.Context, payload []byte) error
}

// Handler serves static files for GET and relays POST bodies
type Handler struct {
	root         string
	maxBodyBytes int64
	ackMode      bool
	relay        Relay
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewHandler creates a handler serving files from cfg.StaticDir
func NewHandler(cfg *config.HTTPConfig, ackMode bool, r Relay, logger *slog.Logger, m *metrics.Metrics) (*Handler, error) {
	root, err := filepath.Abs(cfg.StaticDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve static dir %s: %w", cfg.StaticDir, err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve static dir %s: %w", cfg.StaticDir, err)
	}

	return &Handler{
		root:         root,
		maxBodyBytes: cfg.MaxBodyBytes,
		ackMode:      ackMode,
		relay:        r,
		logger:       logger,
		metrics:      m,
	}, nil
}

// ServeHTTP dispatches by method
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.handleStatic(w, r)
	case http.MethodPost:
		h.handleSubmit(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, "Not Implemented", http.StatusNotImplemented)
	}
}

// handleStatic serves the index, a file under the root, or the error document
func (h *Handler) handleStatic(w http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean("/" + r.URL.Path)
	if urlPath == "/" {
		if !h.serveFile(w, filepath.Join(h.root, indexDocument), http.StatusOK) {
			h.notFound(w, r)
		}
		return
	}

	name, ok := h.resolve(urlPath)
	if !ok || !h.serveFile(w, name, http.StatusOK) {
		h.notFound(w, r)
	}
}

// resolve maps a cleaned URL path to a regular file inside the root.
// Paths that escape the root, directly or through a symlink, do not resolve,
// and neither do hidden files or anything under a hidden directory.
func (h *Handler) resolve(urlPath string) (string, bool) {
	if strings.ContainsRune(urlPath, 0) || hasHiddenSegment(urlPath) {
		return "", false
	}

	name := filepath.Join(h.root, filepath.FromSlash(urlPath))
	resolved, err := filepath.EvalSymlinks(name)
	if err != nil {
		return "", false
	}
	if !h.within(resolved) {
		return "", false
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return resolved, true
}

func hasHiddenSegment(urlPath string) bool {
	for _, segment := range strings.Split(urlPath, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

func (h *Handler) within(name string) bool {
	rel, err := filepath.Rel(h.root, name)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// serveFile streams name with the given status. It reports false, without
// writing anything, when the file cannot be opened.
func (h *Handler) serveFile(w http.ResponseWriter, name string, status int) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = fallbackType
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(status)

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("Failed to stream file",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// notFound writes the error document with status 404
func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Static file not found", slog.String("path", r.URL.Path))
	h.serveError(w, http.StatusNotFound)
}

func (h *Handler) serveError(w http.ResponseWriter, status int) {
	if !h.serveFile(w, filepath.Join(h.root, errorDocument), status) {
		http.Error(w, http.StatusText(status), status)
	}
}

// handleSubmit relays the POST body as one datagram and redirects to the message page
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if r.ContentLength > h.maxBodyBytes {
		h.rejectTooLarge(w, requestID, r.ContentLength)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.rejectTooLarge(w, requestID, maxErr.Limit+1)
			return
		}
		h.logger.Warn("Failed to read form submission",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err = h.relay.Send(r.Context(), body)
	h.metrics.RecordRelaySend(relayFailureReason(err))

	if err != nil {
		h.logger.Warn("Failed to relay form submission",
			slog.String("request_id", requestID),
			slog.Int("size", len(body)),
			slog.String("error", err.Error()),
		)
		if h.ackMode {
			h.serveError(w, http.StatusBadGateway)
			return
		}
	} else {
		h.logger.Debug("Form submission relayed",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.Int("size", len(body)),
		)
	}

	w.Header().Set("Location", messageLocation)
	w.WriteHeader(http.StatusFound)
}

func (h *Handler) rejectTooLarge(w http.ResponseWriter, requestID string, size int64) {
	h.logger.Warn("Form submission too large",
		slog.String("request_id", requestID),
		slog.Int64("size", size),
		slog.Int64("max_bytes", h.maxBodyBytes),
	)
	http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
}

// relayFailureReason classifies a relay error for metrics; empty on success
func relayFailureReason(err error) string {
	var transportErr *relay.TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, relay.ErrAckTimeout):
		return "ack_timeout"
	case errors.Is(err, relay.ErrNotStored):
		return "not_stored"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "error"
	}
}
