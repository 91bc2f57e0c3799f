package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
)

// Ledger records completed ingest operations for observability. The SQLite
// store satisfies it; tests inject a fake. A nil Ledger disables recording.
type Ledger interface {
	// Record persists one ingest operation.
	Record(ctx context.Context, namespace, source string, chunks int) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared between consecutive
	// chunks. Defaults to 200 if ChunkSize is also zero; otherwise taken as-is.
	ChunkOverlap int
}

// Pipeline orchestrates the split → embed → upsert flow for raw text, single
// files, and directories. Safe for concurrent use.
type Pipeline struct {
	// splitter produces bounded overlapping chunks.
	splitter *Splitter

	// embedder converts chunk text into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// encoder produces the sparse half of each vector when the store is
	// hybrid-capable.
	encoder *rag.SparseEncoder

	// ledger records completed operations; may be nil.
	ledger Ledger

	// log is the structured logger for this pipeline.
	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// An invalid chunk size/overlap pair is a configuration error returned here,
// never deferred to ingest time.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, ledger Ledger, cfg *Config, log *slog.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
		if cfg.ChunkOverlap == 0 {
			cfg.ChunkOverlap = DefaultChunkOverlap
		}
	}
	if log == nil {
		log = slog.Default()
	}

	splitter, err := NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		encoder:  rag.NewSparseEncoder(),
		ledger:   ledger,
		log:      log,
	}, nil
}

// IngestText splits raw text, embeds every chunk, and upserts the result
// under the given namespace. Returns the number of chunks stored.
func (p *Pipeline) IngestText(ctx context.Context, text string, metadata map[string]string, namespace string) (int, error) {
	if namespace == "" {
		namespace = "default"
	}

	chunks := p.splitter.SplitWithMetadata(text, metadata)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("ingestion: embedding failed: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("ingestion: expected %d embeddings, got %d", len(chunks), len(embeddings))
	}

	source := metadata["source"]
	if source == "" {
		source = "text"
	}

	docs := make([]rag.Document, 0, len(chunks))
	var sparse []rag.SparseVector
	if p.store.HybridCapable() {
		sparse = make([]rag.SparseVector, 0, len(chunks))
	}
	for i, c := range chunks {
		md := c.Metadata
		if md == nil {
			md = map[string]string{}
		}
		md["chunk_index"] = fmt.Sprintf("%d", i)
		docs = append(docs, rag.Document{
			ID:       chunkID(namespace, source, i, c.Content),
			Content:  c.Content,
			Metadata: md,
		})
		if sparse != nil {
			sparse = append(sparse, p.encoder.Encode(c.Content))
		}
	}

	if err := p.store.Upsert(ctx, docs, embeddings, sparse, namespace); err != nil {
		return 0, fmt.Errorf("ingestion: upsert failed: %w", err)
	}

	p.record(ctx, namespace, source, len(docs))
	p.log.Info("ingested text",
		slog.String("namespace", namespace),
		slog.String("source", source),
		slog.Int("chunks", len(docs)),
	)

	return len(docs), nil
}

// IngestFile extracts the file at path and ingests its text under the given
// namespace. Caller metadata is merged with the extractor's source fields;
// extractor fields win on conflict.
func (p *Pipeline) IngestFile(ctx context.Context, path string, metadata map[string]string, namespace string) (int, error) {
	text, fileMD, err := ExtractFile(path)
	if err != nil {
		return 0, err
	}

	merged := make(map[string]string, len(metadata)+len(fileMD))
	for k, v := range metadata {
		merged[k] = v
	}
	for k, v := range fileMD {
		merged[k] = v
	}

	return p.IngestText(ctx, text, merged, namespace)
}

// FileResult holds the outcome of one file during a directory ingest.
type FileResult struct {
	// Path is the file that was processed.
	Path string

	// Chunks is the number of chunks stored. Zero when Err is non-nil.
	Chunks int

	// Err is the per-file failure, if any. Other files still proceed.
	Err error
}

// IngestDirectory walks root recursively and ingests every file whose
// extension is in extensions (defaults to .txt and .md). Individual file
// failures are collected, not fatal.
func (p *Pipeline) IngestDirectory(ctx context.Context, root string, extensions []string, namespace string) ([]FileResult, error) {
	if len(extensions) == 0 {
		extensions = []string{".txt", ".md"}
	}

	var results []FileResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !slices.Contains(extensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		n, ingestErr := p.IngestFile(ctx, path, nil, namespace)
		results = append(results, FileResult{Path: path, Chunks: n, Err: ingestErr})
		if ingestErr != nil {
			p.log.Warn("ingest: file failed",
				slog.String("path", path),
				slog.Any("error", ingestErr),
			)
		}
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("ingestion: walking %s: %w", root, err)
	}

	return results, nil
}

// record writes the operation to the ledger, logging (not failing) on error —
// the ledger is observability, not part of the ingest contract.
func (p *Pipeline) record(ctx context.Context, namespace, source string, chunks int) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.Record(ctx, namespace, source, chunks); err != nil {
		p.log.Warn("ingest: ledger record failed", slog.Any("error", err))
	}
}

// chunkID generates a deterministic UUID-shaped ID for a chunk from its
// namespace, source, position, and content. Re-ingesting identical content
// overwrites the same points instead of duplicating them.
func chunkID(namespace, source string, index int, content string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", namespace, source, index, content)))
	// Qdrant point IDs must be UUIDs; format the first 16 hash bytes as one.
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
