// Package rag defines the interfaces for the retrieval side of the medrag
// pipeline: namespaced vector storage, dense/sparse embedding, and document
// retrieval. Concrete implementations (Qdrant, the HTTP embedders) satisfy
// these interfaces so the service layer never depends on a specific backend.
package rag

import (
	"context"
)

// Document represents a unit of stored or retrieved knowledge.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Metadata holds arbitrary key-value pairs (source, file_name, chunk_index, ...).
	Metadata map[string]string

	// Score is the relevance score assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32

	// Vector is the dense embedding of the chunk. Populated only when a
	// search explicitly requests vectors (the MMR re-ranking path).
	Vector []float32
}

// SparseVector is a term-frequency style sparse embedding: parallel slices of
// dimension indices and their weights.
type SparseVector struct {
	// Indices are the active dimensions, ascending and unique.
	Indices []uint32

	// Values are the weights for the corresponding indices.
	Values []float32
}

// Stats summarises the state of the vector index for observability.
// Never used on a query hot path.
type Stats struct {
	// Collection is the index collection name.
	Collection string

	// Points is the total number of stored vectors across all namespaces.
	Points uint64

	// Dimension is the dense vector size the collection was created with.
	Dimension uint64

	// HybridCapable reports whether the collection carries a sparse vector
	// configuration alongside the dense one.
	HybridCapable bool
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the interface for persisting and searching document
// embeddings inside logical namespaces. Vectors in different namespaces are
// never retrieved together. Implementations must be safe to call from
// multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents under the given namespace.
	// dense must be parallel to docs. sparse may be nil when the store is not
	// hybrid-capable; when non-nil it must be parallel to docs as well.
	Upsert(ctx context.Context, docs []Document, dense [][]float32, sparse []SparseVector, namespace string) error

	// Search performs a dense similarity search scoped to one namespace and
	// returns the top-k most relevant documents, ordered by descending score.
	// When withVectors is true each returned Document carries its dense vector.
	Search(ctx context.Context, queryEmbedding []float32, namespace string, topK int, withVectors bool) ([]Document, error)

	// SearchSparse performs a sparse (keyword) search scoped to one namespace.
	// Only valid when HybridCapable reports true.
	SearchSparse(ctx context.Context, query SparseVector, namespace string, topK int) ([]Document, error)

	// DeleteNamespace removes every vector stored under the namespace.
	// Irreversible.
	DeleteNamespace(ctx context.Context, namespace string) error

	// Count returns the number of vectors stored under the namespace.
	Count(ctx context.Context, namespace string) (uint64, error)

	// Stats returns index-level counters for observability.
	Stats(ctx context.Context) (Stats, error)

	// HybridCapable reports whether dense+sparse hybrid search is available.
	// The flag is resolved once when the store is constructed.
	HybridCapable() bool

	// Close releases any resources held by the store.
	Close() error
}

// Retriever is the high-level interface used by the service layer to fetch
// relevant context for a query. Implementations must be safe to call from
// multiple goroutines.
type Retriever interface {
	// Retrieve returns the most relevant documents for the query under the
	// currently active namespace. Retrieval failure degrades to an empty
	// result rather than an error so the pipeline never crashes on a bad
	// search — "no context found" is always representable.
	Retrieve(ctx context.Context, query string, p Params) []Document

	// SetNamespace switches the active namespace and reinitialises any
	// per-namespace retrieval state.
	SetNamespace(namespace string)

	// Namespace returns the currently active namespace.
	Namespace() string
}

// Params carries the per-call retrieval tuning knobs. They are explicit call
// parameters rather than retriever fields so concurrent requests with
// different settings never race.
type Params struct {
	// TopK is the number of documents to return. Defaults to 5 when zero.
	TopK int

	// Alpha blends dense vs sparse relevance in hybrid mode:
	// 1.0 = pure dense, 0.0 = pure sparse. Clamped to [0, 1].
	// Ignored by the dense-only strategy.
	Alpha float32

	// FetchK is the candidate pool fetched before MMR re-ranking in the
	// dense-only strategy. Defaults to 4*TopK (minimum 20) when zero.
	FetchK int
}
