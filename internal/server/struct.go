package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/generator"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/ingestion"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps the size of an uploaded document (default: 32 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// pipeline is the interface the handlers call. *service.RAG satisfies it;
// tests inject a fake.
type pipeline interface {
	Query(ctx context.Context, question string, p service.QueryParams) service.QueryResult
	RetrieveOnly(ctx context.Context, question string, p service.QueryParams) []rag.Document
	GenerateOnly(ctx context.Context, question, contextText, customPrompt string) generator.Result
	IngestText(ctx context.Context, text string, metadata map[string]string, namespace string) (int, error)
	IngestFile(ctx context.Context, path string, metadata map[string]string, namespace string) (int, error)
	IngestDirectory(ctx context.Context, root string, extensions []string, namespace string) ([]ingestion.FileResult, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	ActiveNamespace() string
	Stats(ctx context.Context) (service.StatsResult, error)
}

// Server is the HTTP server that exposes the pipeline as a REST API.
type Server struct {
	// svc is the pipeline the handlers delegate to.
	svc pipeline
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// Namespace scopes the search; empty means the active namespace.
	Namespace string `json:"namespace,omitempty"`
	// TopK is the number of documents to retrieve (default: 5).
	TopK int `json:"top_k,omitempty"`
	// Alpha is the dense/sparse blend weight in [0, 1]; null means 0.5.
	Alpha *float32 `json:"alpha,omitempty"`
	// Prompt optionally replaces the default generation template.
	Prompt string `json:"prompt,omitempty"`
	// WithSources attaches per-document citation records.
	WithSources bool `json:"with_sources,omitempty"`
}

// retrieveResponse is the JSON body returned by POST /api/retrieve.
type retrieveResponse struct {
	// Question echoes the query.
	Question string `json:"question"`
	// Namespace is the partition the retrieval ran against.
	Namespace string `json:"namespace"`
	// Documents are the retrieval results ordered by descending relevance.
	Documents []retrievedDocument `json:"documents"`
}

// retrievedDocument is one retrieval result in a retrieveResponse.
type retrievedDocument struct {
	// ID is the chunk identifier.
	ID string `json:"id"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Metadata is the chunk's stored metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Score is the relevance score assigned by the retriever.
	Score float32 `json:"score"`
}

// generateRequest is the JSON body for POST /api/generate.
type generateRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// Context is the caller-supplied grounding text; retrieval is skipped.
	Context string `json:"context"`
	// Prompt optionally replaces the default generation template.
	Prompt string `json:"prompt,omitempty"`
}

// ingestTextRequest is the JSON body for POST /api/ingest/text.
type ingestTextRequest struct {
	// Text is the raw document text to ingest.
	Text string `json:"text"`
	// Namespace is the partition to store under; empty means the active one.
	Namespace string `json:"namespace,omitempty"`
	// Metadata is attached to every chunk produced from Text.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ingestResponse is the JSON body returned by the ingest endpoints.
type ingestResponse struct {
	// Status is "success" on completion.
	Status string `json:"status"`
	// Namespace is the partition the chunks were stored under.
	Namespace string `json:"namespace"`
	// Chunks is the number of chunks stored.
	Chunks int `json:"chunks"`
	// Source identifies what was ingested.
	Source string `json:"source,omitempty"`
}

// errorResponse is the JSON body for all non-2xx API responses.
type errorResponse struct {
	// Error is the human-readable failure reason.
	Error string `json:"error"`
}
