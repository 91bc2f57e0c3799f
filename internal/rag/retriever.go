package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Retrieval parameter defaults, mirroring the service-level API defaults.
const (
	defaultTopK  = 5
	minFetchK    = 20
	fetchKFactor = 4
)

// searchStrategy is the closed set of retrieval strategies. Exactly one is
// active per retriever at a time: hybridStrategy when the store supports
// dense+sparse search, denseStrategy otherwise. The choice is made once at
// construction (and again on namespace change), never per call.
type searchStrategy interface {
	// name identifies the strategy in logs.
	name() string

	// search returns ranked documents for the query within the namespace.
	search(ctx context.Context, query, namespace string, p Params) ([]Document, error)
}

// HybridRetriever implements Retriever over an Embedder and a VectorStore.
// It selects the best available strategy at construction time and degrades
// gracefully: hybrid → dense-with-MMR → plain similarity → empty result.
// Safe for concurrent use; namespace switches are serialised by a lock and
// TopK/Alpha/FetchK travel as call parameters, never as fields.
type HybridRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the namespaced vector search.
	store VectorStore

	// encoder produces the sparse query vector for the hybrid strategy.
	encoder *SparseEncoder

	// log is the structured logger for degradation events.
	log *slog.Logger

	// mu guards namespace and strategy.
	mu sync.RWMutex

	// namespace is the active logical partition for all searches.
	namespace string

	// strategy is the active search strategy, rebuilt on namespace change.
	strategy searchStrategy
}

// NewHybridRetriever constructs a HybridRetriever bound to the given
// namespace. The hybrid capability is probed once via store.HybridCapable;
// the resulting strategy stays fixed until SetNamespace is called.
func NewHybridRetriever(embedder Embedder, store VectorStore, namespace string, log *slog.Logger) (*HybridRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if namespace == "" {
		namespace = "default"
	}
	if log == nil {
		log = slog.Default()
	}

	r := &HybridRetriever{
		embedder:  embedder,
		store:     store,
		encoder:   NewSparseEncoder(),
		log:       log,
		namespace: namespace,
	}
	r.strategy = r.buildStrategy()

	return r, nil
}

// buildStrategy selects the search strategy from the store's capability flag.
func (r *HybridRetriever) buildStrategy() searchStrategy {
	if r.store.HybridCapable() {
		return &hybridStrategy{embedder: r.embedder, encoder: r.encoder, store: r.store}
	}
	return &denseStrategy{embedder: r.embedder, store: r.store, log: r.log}
}

// Retrieve returns the most relevant documents for the query under the active
// namespace. Any retrieval failure is logged and degrades to an empty slice —
// the caller sees "no context found", never an error.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, p Params) []Document {
	p = p.withDefaults()

	r.mu.RLock()
	strategy := r.strategy
	namespace := r.namespace
	r.mu.RUnlock()

	if strategy == nil {
		// Strategy state went missing — rebuild once, then give up.
		r.mu.Lock()
		if r.strategy == nil {
			r.strategy = r.buildStrategy()
		}
		strategy = r.strategy
		namespace = r.namespace
		r.mu.Unlock()
		if strategy == nil {
			r.log.Error("retriever: no strategy available after rebuild")
			return nil
		}
	}

	docs, err := strategy.search(ctx, query, namespace, p)
	if err != nil {
		r.log.Warn("retriever: search failed, returning empty result",
			slog.String("strategy", strategy.name()),
			slog.String("namespace", namespace),
			slog.Any("error", err),
		)
		return nil
	}
	return docs
}

// SetNamespace switches the active namespace and rebuilds the per-namespace
// strategy state, re-resolving the hybrid capability.
func (r *HybridRetriever) SetNamespace(namespace string) {
	if namespace == "" {
		namespace = "default"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.namespace = namespace
	r.strategy = r.buildStrategy()
}

// Namespace returns the currently active namespace.
func (r *HybridRetriever) Namespace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namespace
}

// withDefaults normalises the per-call parameters.
func (p Params) withDefaults() Params {
	if p.TopK <= 0 {
		p.TopK = defaultTopK
	}
	if p.Alpha < 0 {
		p.Alpha = 0
	}
	if p.Alpha > 1 {
		p.Alpha = 1
	}
	if p.FetchK <= p.TopK {
		p.FetchK = fetchKFactor * p.TopK
		if p.FetchK < minFetchK {
			p.FetchK = minFetchK
		}
	}
	return p
}

// hybridStrategy blends dense and sparse search results with a convex
// combination of min-max normalised scores, weighted by alpha.
type hybridStrategy struct {
	// embedder produces the dense query vector.
	embedder Embedder
	// encoder produces the sparse query vector.
	encoder *SparseEncoder
	// store executes both searches.
	store VectorStore
}

func (s *hybridStrategy) name() string { return "hybrid" }

func (s *hybridStrategy) search(ctx context.Context, query, namespace string, p Params) ([]Document, error) {
	var dense, sparse []Document

	// alpha 1.0 is pure dense and 0.0 pure sparse; skip the unused side
	// entirely so the blend never pays for a search it will zero-weight.
	if p.Alpha > 0 {
		embeddings, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, fmt.Errorf("hybrid: embedding query: %w", err)
		}
		if len(embeddings) == 0 {
			return nil, fmt.Errorf("hybrid: embedder returned no vector for query")
		}
		dense, err = s.store.Search(ctx, embeddings[0], namespace, p.TopK, false)
		if err != nil {
			return nil, fmt.Errorf("hybrid: dense search: %w", err)
		}
	}

	if p.Alpha < 1 {
		sv := s.encoder.Encode(query)
		if len(sv.Indices) > 0 {
			var err error
			sparse, err = s.store.SearchSparse(ctx, sv, namespace, p.TopK)
			if err != nil {
				return nil, fmt.Errorf("hybrid: sparse search: %w", err)
			}
		}
	}

	return blend(dense, sparse, p.Alpha, p.TopK), nil
}

// blend merges dense and sparse result lists into a single ranking using
// score = alpha*normDense + (1-alpha)*normSparse, deduplicated by document ID.
func blend(dense, sparse []Document, alpha float32, topK int) []Document {
	type blended struct {
		doc   Document
		score float32
	}

	merged := make(map[string]*blended, len(dense)+len(sparse))

	for i, d := range dense {
		merged[d.ID] = &blended{doc: d, score: alpha * normalise(dense, i)}
	}
	for i, d := range sparse {
		w := (1 - alpha) * normalise(sparse, i)
		if b, ok := merged[d.ID]; ok {
			b.score += w
		} else {
			merged[d.ID] = &blended{doc: d, score: w}
		}
	}

	out := make([]Document, 0, len(merged))
	for _, b := range merged {
		b.doc.Score = b.score
		out = append(out, b.doc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// normalise min-max scales the score of docs[i] within its result list.
// A constant-score list maps to 1.0 so single-result lists keep full weight.
func normalise(docs []Document, i int) float32 {
	lo, hi := docs[0].Score, docs[0].Score
	for _, d := range docs {
		if d.Score < lo {
			lo = d.Score
		}
		if d.Score > hi {
			hi = d.Score
		}
	}
	if hi == lo {
		return 1
	}
	return (docs[i].Score - lo) / (hi - lo)
}

// denseStrategy is the degraded path used when hybrid search is unavailable:
// fetch FetchK nearest candidates, re-rank with maximal marginal relevance,
// and fall back to plain similarity search if the re-ranking fails.
type denseStrategy struct {
	// embedder produces the dense query vector.
	embedder Embedder
	// store executes the similarity searches.
	store VectorStore
	// log records the MMR→plain fallback, which is a degradation, not an error.
	log *slog.Logger
}

func (s *denseStrategy) name() string { return "dense" }

func (s *denseStrategy) search(ctx context.Context, query, namespace string, p Params) ([]Document, error) {
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("dense: embedding query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("dense: embedder returned no vector for query")
	}
	queryVec := embeddings[0]

	candidates, err := s.store.Search(ctx, queryVec, namespace, p.FetchK, true)
	if err == nil {
		selected, mmrErr := maximalMarginalRelevance(queryVec, candidates, p.TopK)
		if mmrErr == nil {
			return selected, nil
		}
		s.log.Warn("dense: MMR re-ranking failed, falling back to plain similarity search",
			slog.String("namespace", namespace),
			slog.Any("error", mmrErr),
		)
	}

	return s.store.Search(ctx, queryVec, namespace, p.TopK, false)
}
