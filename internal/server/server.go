// Package server implements the HTTP server that exposes the medrag
// pipeline as a REST API: ingestion, retrieval, grounded generation, and
// namespace administration. The server is started by the `medrag serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/ingestion"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/logging"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/service"
)

// defaultMaxUploadBytes caps uploaded document size when the config does not
// set one.
const defaultMaxUploadBytes = 32 << 20

// New constructs a Server from the provided pipeline service and config.
// Metrics are registered against reg; pass a fresh registry in tests.
func New(svc pipeline, cfg *Config, reg prometheus.Registerer) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Generation calls can take most of a minute with retries.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(reg),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		log.Warn("server: MEDRAG_API_KEY not set — API authentication is disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/query", s.instrument("query", s.handleQuery))
	mux.HandleFunc("POST /api/retrieve", s.instrument("retrieve", s.handleRetrieve))
	mux.HandleFunc("POST /api/generate", s.instrument("generate", s.handleGenerate))
	mux.HandleFunc("POST /api/ingest/text", s.instrument("ingest_text", s.handleIngestText))
	mux.HandleFunc("POST /api/ingest/file", s.instrument("ingest_file", s.handleIngestFile))
	mux.HandleFunc("DELETE /api/namespace/{name}", s.instrument("namespace_delete", s.handleNamespaceDelete))
	mux.HandleFunc("GET /api/stats", s.instrument("stats", s.handleStats))

	var handler http.Handler = mux
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rl.middleware(handler)
	handler = requestLogger(log, handler)

	// Operational endpoints bypass auth and rate limiting: metrics for
	// scrapers, health/ready for probes.
	outer := http.NewServeMux()
	outer.Handle("/api/", handler)
	outer.HandleFunc("GET /api/health", s.handleHealth)
	outer.HandleFunc("GET /api/ready", s.handleReady)
	outer.Handle("GET /metrics", promhttp.HandlerFor(gathererFor(reg), promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      outer,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// gathererFor returns reg as a Gatherer when it is one (the usual case for
// *prometheus.Registry), falling back to the default gatherer.
func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// Handler returns the root HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// instrument wraps a handler func so every call is counted and timed under
// the given logical name.
func (s *Server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rw, r)
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, fmt.Sprintf("%d", rw.status)).Inc()
	}
}

// handleQuery handles POST /api/query: the full retrieve-and-generate
// pipeline. The response is always 200 with a tagged status field — pipeline
// degradation (no context, model failure) is data, not an HTTP error.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result := s.svc.Query(r.Context(), req.Question, service.QueryParams{
		Namespace:   req.Namespace,
		TopK:        req.TopK,
		Alpha:       req.Alpha,
		Prompt:      req.Prompt,
		WithSources: req.WithSources,
	})

	s.metrics.queryRequestsTotal.WithLabelValues(string(result.Status)).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(string(result.Status)).
		Observe(float64(result.ElapsedMS) / 1000)

	writeJSON(w, http.StatusOK, result)
}

// handleRetrieve handles POST /api/retrieve: retrieval without generation,
// for relevance debugging and downstream consumers that bring their own model.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	docs := s.svc.RetrieveOnly(r.Context(), req.Question, service.QueryParams{
		Namespace: req.Namespace,
		TopK:      req.TopK,
		Alpha:     req.Alpha,
	})

	resp := retrieveResponse{
		Question:  req.Question,
		Namespace: s.svc.ActiveNamespace(),
		Documents: make([]retrievedDocument, 0, len(docs)),
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, retrievedDocument{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
			Score:    d.Score,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGenerate handles POST /api/generate: generation from caller-supplied
// context, skipping retrieval entirely.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result := s.svc.GenerateOnly(r.Context(), req.Question, req.Context, req.Prompt)
	writeJSON(w, http.StatusOK, result)
}

// handleIngestText handles POST /api/ingest/text.
func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	chunks, err := s.svc.IngestText(r.Context(), req.Text, req.Metadata, req.Namespace)
	if err != nil {
		logging.FromContext(r.Context()).Error("ingest text failed", slog.Any("error", err))
		s.metrics.ingestRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	s.metrics.ingestRequestsTotal.WithLabelValues("success").Inc()
	s.metrics.ingestChunksTotal.Add(float64(chunks))
	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "success",
		Namespace: namespaceOrActive(s.svc, req.Namespace),
		Chunks:    chunks,
		Source:    "text",
	})
}

// handleIngestFile handles POST /api/ingest/file (multipart form upload).
// The upload is spooled to a temp file so the extractors can work from a
// real path; the temp file is removed before the response is written.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !ingestion.SupportedExtension(ext) {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	tmpPath, err := spoolUpload(file, header.Filename)
	if err != nil {
		logging.FromContext(r.Context()).Error("upload spool failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	defer os.Remove(tmpPath)

	namespace := r.FormValue("namespace")
	metadata := map[string]string{
		"source":    header.Filename,
		"file_name": header.Filename,
	}

	chunks, err := s.svc.IngestFile(r.Context(), tmpPath, metadata, namespace)
	if err != nil {
		logging.FromContext(r.Context()).Error("ingest file failed",
			slog.String("file", header.Filename),
			slog.Any("error", err),
		)
		s.metrics.ingestRequestsTotal.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	s.metrics.ingestRequestsTotal.WithLabelValues("success").Inc()
	s.metrics.ingestChunksTotal.Add(float64(chunks))
	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "success",
		Namespace: namespaceOrActive(s.svc, namespace),
		Chunks:    chunks,
		Source:    header.Filename,
	})
}

// handleNamespaceDelete handles DELETE /api/namespace/{name}. Irreversible.
func (s *Server) handleNamespaceDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "namespace name is required")
		return
	}

	if err := s.svc.DeleteNamespace(r.Context(), name); err != nil {
		logging.FromContext(r.Context()).Error("namespace delete failed",
			slog.String("namespace", name),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "namespace deletion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"namespace": name,
	})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("stats failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// namespaceOrActive resolves the namespace actually used for a request.
func namespaceOrActive(svc pipeline, requested string) string {
	if requested != "" {
		return requested
	}
	return svc.ActiveNamespace()
}

// spoolUpload copies an uploaded file to a temp file preserving the original
// extension (the extractors dispatch on it) and returns the temp path.
func spoolUpload(file multipart.File, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "medrag-upload-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("server: creating temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := tmp.ReadFrom(file); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("server: writing upload: %w", err)
	}
	return tmp.Name(), nil
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
