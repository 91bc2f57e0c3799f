package server

import (
	"context"
	"fmt"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
)

// healthChecker is satisfied by any dependency exposing a cheap reachability
// probe. *rag.QdrantStore satisfies it.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QdrantPinger probes the vector index using its native health-check RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// store is the Qdrant-backed vector store to probe.
	store healthChecker
}

// NewQdrantPinger constructs a QdrantPinger for the given store.
func NewQdrantPinger(store healthChecker) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant health-check RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if err := p.store.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// EmbedderPinger probes the embedding backend by embedding a one-word probe
// string. This costs one tiny embedding call per readiness check, which is
// cheap compared to a chat completion.
type EmbedderPinger struct {
	// embedder is the embedding client to probe.
	embedder rag.Embedder
	// name identifies the backend in readiness responses (e.g. "openai").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder and
// backend name.
func NewEmbedderPinger(e rag.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embedder: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds a probe string and checks that a vector came back.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	vecs, err := p.embedder.Embed(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("embed returned no vector")
	}
	return nil
}
