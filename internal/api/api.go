// Package api serves the Auralyze HTTP surface:
//
//	POST /api/v1/audio/process   classify an uploaded file
//	GET  /api/v1/audio/features  feature extractor catalog
//	GET  /api/v1/audio/stream    websocket streaming endpoint
//	GET  /healthz, /readyz       liveness and readiness
//	GET  /metrics                Prometheus scrape endpoint
//
// Every route is wrapped in the observe middleware.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/MrWong99/auralyze/internal/analysis"
	"github.com/MrWong99/auralyze/internal/health"
	"github.com/MrWong99/auralyze/internal/observe"
	"github.com/MrWong99/auralyze/pkg/features"
)

// uploadField is the multipart form field carrying the file.
const uploadField = "file"

// defaultMaxUpload is used when Config.MaxUploadBytes is zero.
const defaultMaxUpload = 50 << 20

// Config lists the server's dependencies. Analyzer is required; any other
// nil handler leaves its route unregistered.
type Config struct {
	Analyzer *analysis.Analyzer

	// Catalog is served by the features route.
	Catalog []features.Descriptor

	// Stream handles websocket upgrades.
	Stream http.Handler

	Health *health.Handler

	// MetricsHandler serves /metrics.
	MetricsHandler http.Handler

	// Metrics feeds the request middleware. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MaxUploadBytes caps an upload body. Default: 50 MiB.
	MaxUploadBytes int64
}

// Server routes HTTP requests to the analysis and streaming subsystems.
type Server struct {
	cfg     Config
	handler http.Handler
}

// errorBody is the JSON error response shape.
type errorBody struct {
	Message string `json:"message"`
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Analyzer == nil {
		return nil, errors.New("api: analyzer is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Server{cfg: cfg}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/audio/process", s.handleProcess)
	mux.HandleFunc("GET /api/v1/audio/features", s.handleFeatures)
	if cfg.Stream != nil {
		mux.Handle("GET /api/v1/audio/stream", cfg.Stream)
	}
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// handleProcess handles POST /api/v1/audio/process. The file is taken from
// the multipart field "file" or, for any other content type, the raw body.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	src, name, err := uploadSource(r, body)
	if err != nil {
		writeError(w, uploadStatus(err), err)
		return
	}

	rep, err := s.cfg.Analyzer.AnalyzeFile(r.Context(), src)
	if err != nil {
		status := uploadStatus(err)
		if status == http.StatusInternalServerError {
			log.Error("api: file analysis failed", "file", name, "err", err)
		}
		writeError(w, status, fmt.Errorf("processing audio: %w", err))
		return
	}
	log.Info("api: file analysed",
		"file", name,
		"prediction", rep.Prediction,
		"windows", rep.Windows,
		"failed_windows", rep.FailedWindows,
	)
	writeJSON(w, http.StatusOK, rep)
}

// uploadSource returns a reader over the uploaded file and its name.
func uploadSource(r *http.Request, body io.ReadCloser) (io.Reader, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return body, "", nil
	}
	r.Body = body
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("%w: missing form field %q", errBadRequest, uploadField)
		}
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", errBadRequest, err)
		}
		if part.FormName() == uploadField {
			return part, part.FileName(), nil
		}
	}
}

var errBadRequest = errors.New("bad request")

// uploadStatus maps an upload or analysis error to an HTTP status.
func uploadStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, analysis.ErrDecode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleFeatures handles GET /api/v1/audio/features.
func (s *Server) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Catalog)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Message: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: response not written", "err", err)
	}
}
