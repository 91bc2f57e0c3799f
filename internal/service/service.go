// Package service wires retrieval, generation, and ingestion into the
// medrag pipeline API that the HTTP server and the CLI both call. All
// per-request tuning travels as explicit call parameters; the only mutable
// service state is the active namespace.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/generator"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/ingestion"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/store"
)

// noAnswerMessage is the canned answer returned when retrieval finds nothing.
// The model is never invoked in that case.
const noAnswerMessage = "I couldn't find any relevant information to answer your question."

// DefaultAlpha is the dense/sparse blend weight applied when a query does not
// specify one: an even split between semantic and keyword relevance.
const DefaultAlpha = 0.5

// QueryParams carries the per-call tuning for Query and RetrieveOnly.
// The zero value means "service defaults".
type QueryParams struct {
	// Namespace scopes the search. Empty means the service's active namespace.
	Namespace string

	// TopK is the number of documents to retrieve. Defaults to 5.
	TopK int

	// Alpha is the dense/sparse blend weight in [0, 1]. nil means DefaultAlpha.
	// A pointer distinguishes "unset" from an explicit 0.0 (pure sparse).
	Alpha *float32

	// Prompt optionally replaces the default generation template in full.
	// Must contain the {context} and {question} slots.
	Prompt string

	// WithSources attaches per-document citation records to the result.
	WithSources bool
}

// QueryResult is the tagged outcome of a full query: the generation result
// decorated with the retrieval facts it was grounded in.
type QueryResult struct {
	generator.Result

	// Question echoes the query for response logs and API payloads.
	Question string `json:"question"`

	// Namespace is the partition the retrieval ran against.
	Namespace string `json:"namespace"`

	// RetrievedCount is the number of documents retrieval returned.
	RetrievedCount int `json:"retrieved_count"`

	// Alpha is the blend weight the retrieval used.
	Alpha float32 `json:"alpha"`

	// ElapsedMS is the end-to-end pipeline latency in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
}

// StatsResult aggregates the index and ledger views for the stats API.
type StatsResult struct {
	// Index summarises the vector collection.
	Index rag.Stats `json:"index"`

	// ActiveNamespace is the service's current default namespace.
	ActiveNamespace string `json:"active_namespace"`

	// Namespaces lists per-namespace chunk totals from the ingest ledger.
	Namespaces []store.NamespaceCount `json:"namespaces,omitempty"`

	// RecentIngests lists the latest ingest operations, newest first.
	RecentIngests []store.Entry `json:"recent_ingests,omitempty"`
}

// RAG is the pipeline: retrieve context for a question, generate a grounded
// answer, and manage the namespaced index it draws from. Safe for concurrent
// use.
type RAG struct {
	// retriever fetches relevant documents for a query.
	retriever rag.Retriever

	// generator produces the grounded answer.
	generator *generator.Generator

	// pipeline ingests new documents.
	pipeline *ingestion.Pipeline

	// store gives direct index access for namespace deletion and stats.
	store rag.VectorStore

	// ledger records ingests and backs the namespace listing; may be nil.
	ledger *store.Ledger

	// log is the structured logger for this service.
	log *slog.Logger
}

// New constructs the pipeline service. retriever, gen, pipeline, and vs are
// required; ledger may be nil (namespace listings are then unavailable).
func New(retriever rag.Retriever, gen *generator.Generator, pipeline *ingestion.Pipeline, vs rag.VectorStore, ledger *store.Ledger, log *slog.Logger) (*RAG, error) {
	if retriever == nil {
		return nil, fmt.Errorf("service: retriever must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("service: generator must not be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("service: ingestion pipeline must not be nil")
	}
	if vs == nil {
		return nil, fmt.Errorf("service: vector store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RAG{
		retriever: retriever,
		generator: gen,
		pipeline:  pipeline,
		store:     vs,
		ledger:    ledger,
		log:       log,
	}, nil
}

// Query runs the full pipeline: retrieve documents for the question, compose
// them into bounded context, and generate a grounded answer. When retrieval
// finds nothing the result is a StatusWarning with a canned answer — the
// model is not invoked on empty context from a query. Failures surface as
// tagged results, never as errors.
func (s *RAG) Query(ctx context.Context, question string, p QueryParams) QueryResult {
	start := time.Now()
	namespace, alpha := s.resolve(p)

	docs := s.retriever.Retrieve(ctx, question, rag.Params{TopK: p.TopK, Alpha: alpha})

	result := QueryResult{
		Question:       question,
		Namespace:      namespace,
		RetrievedCount: len(docs),
		Alpha:          alpha,
	}

	if len(docs) == 0 {
		s.log.Info("query found no context",
			slog.String("namespace", namespace),
			slog.String("question", question),
		)
		result.Result = generator.Result{
			Status:  generator.StatusWarning,
			Message: "no relevant documents found in namespace " + namespace,
			Answer:  noAnswerMessage,
		}
		result.ElapsedMS = time.Since(start).Milliseconds()
		return result
	}

	if p.WithSources {
		result.Result = s.generator.GenerateWithSources(ctx, question, docs, p.Prompt)
	} else {
		result.Result = s.generator.Generate(ctx, question, docs, p.Prompt)
	}
	result.ElapsedMS = time.Since(start).Milliseconds()

	s.log.Info("query completed",
		slog.String("namespace", namespace),
		slog.String("status", string(result.Status)),
		slog.Int("retrieved", len(docs)),
		slog.Int64("elapsed_ms", result.ElapsedMS),
	)
	return result
}

// RetrieveOnly returns the raw retrieval results without invoking the model.
// Used by the retrieval API and for debugging relevance.
func (s *RAG) RetrieveOnly(ctx context.Context, question string, p QueryParams) []rag.Document {
	_, alpha := s.resolve(p)
	return s.retriever.Retrieve(ctx, question, rag.Params{TopK: p.TopK, Alpha: alpha})
}

// GenerateOnly skips retrieval and answers from caller-supplied context text.
// The text is wrapped as a single synthetic document so composition applies
// the same bounds it applies to retrieved chunks. Unlike Query, empty context
// is passed through: the model sees the no-context sentinel and answers that
// it lacks information.
func (s *RAG) GenerateOnly(ctx context.Context, question, contextText, customPrompt string) generator.Result {
	var docs []rag.Document
	if contextText != "" {
		docs = []rag.Document{{Content: contextText, Metadata: map[string]string{"source": "inline"}}}
	}
	return s.generator.Generate(ctx, question, docs, customPrompt)
}

// IngestText ingests raw text under the given namespace (empty means the
// active namespace). Returns the number of chunks stored.
func (s *RAG) IngestText(ctx context.Context, text string, metadata map[string]string, namespace string) (int, error) {
	if namespace == "" {
		namespace = s.retriever.Namespace()
	}
	return s.pipeline.IngestText(ctx, text, metadata, namespace)
}

// IngestFile extracts and ingests one file under the given namespace.
func (s *RAG) IngestFile(ctx context.Context, path string, metadata map[string]string, namespace string) (int, error) {
	if namespace == "" {
		namespace = s.retriever.Namespace()
	}
	return s.pipeline.IngestFile(ctx, path, metadata, namespace)
}

// IngestDirectory ingests every supported file under root.
func (s *RAG) IngestDirectory(ctx context.Context, root string, extensions []string, namespace string) ([]ingestion.FileResult, error) {
	if namespace == "" {
		namespace = s.retriever.Namespace()
	}
	return s.pipeline.IngestDirectory(ctx, root, extensions, namespace)
}

// ChangeNamespace switches the service's active namespace for subsequent
// calls that do not specify one.
func (s *RAG) ChangeNamespace(namespace string) {
	s.retriever.SetNamespace(namespace)
	s.log.Info("active namespace changed", slog.String("namespace", s.retriever.Namespace()))
}

// ActiveNamespace returns the current default namespace.
func (s *RAG) ActiveNamespace() string {
	return s.retriever.Namespace()
}

// DeleteNamespace removes every vector under the namespace from the index and
// drops its ledger records. Irreversible. The namespace name must be given
// explicitly — there is no "delete the active namespace" shortcut.
func (s *RAG) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return fmt.Errorf("service: namespace must not be empty")
	}
	if err := s.store.DeleteNamespace(ctx, namespace); err != nil {
		return fmt.Errorf("service: deleting namespace %q: %w", namespace, err)
	}
	if s.ledger != nil {
		if err := s.ledger.Forget(ctx, namespace); err != nil {
			// Index deletion already succeeded; a stale ledger row is an
			// observability blemish, not a data problem.
			s.log.Warn("ledger cleanup failed after namespace delete",
				slog.String("namespace", namespace),
				slog.Any("error", err),
			)
		}
	}
	s.log.Info("namespace deleted", slog.String("namespace", namespace))
	return nil
}

// Stats returns the combined index and ledger view for the stats API.
// Ledger read failures degrade to a partial result rather than an error.
func (s *RAG) Stats(ctx context.Context) (StatsResult, error) {
	indexStats, err := s.store.Stats(ctx)
	if err != nil {
		return StatsResult{}, fmt.Errorf("service: reading index stats: %w", err)
	}

	result := StatsResult{
		Index:           indexStats,
		ActiveNamespace: s.retriever.Namespace(),
	}

	if s.ledger != nil {
		if counts, err := s.ledger.Namespaces(ctx); err == nil {
			result.Namespaces = counts
		} else {
			s.log.Warn("stats: namespace listing failed", slog.Any("error", err))
		}
		if recent, err := s.ledger.Recent(ctx, 10); err == nil {
			result.RecentIngests = recent
		} else {
			s.log.Warn("stats: recent ingest listing failed", slog.Any("error", err))
		}
	}

	return result, nil
}

// resolve applies the service defaults to per-call parameters and, when the
// call names a namespace different from the active one, switches to it.
func (s *RAG) resolve(p QueryParams) (namespace string, alpha float32) {
	namespace = p.Namespace
	if namespace == "" {
		namespace = s.retriever.Namespace()
	} else if namespace != s.retriever.Namespace() {
		s.retriever.SetNamespace(namespace)
	}

	alpha = DefaultAlpha
	if p.Alpha != nil {
		alpha = *p.Alpha
	}
	return namespace, alpha
}
