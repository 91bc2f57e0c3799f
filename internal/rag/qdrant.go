package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
)

// Named vector slots and payload fields used by the Qdrant collection.
// Qdrant has no native namespace concept, so isolation is implemented with a
// keyword-indexed "namespace" payload field that every query must match.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	fieldContent   = "content"
	fieldNamespace = "namespace"
)

// QdrantConfig holds connection parameters for the Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use. Required.
	Collection string

	// VectorSize is the dense embedding dimensionality, fixed once from the
	// embedding model in use. Required.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// DisableHybrid forces the dense-only configuration even when the server
	// would accept a sparse vector config (RETRIEVAL_HYBRID=off).
	DisableHybrid bool

	// Logger records capability-degradation events. Defaults to slog.Default.
	Logger *slog.Logger
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
// The hybrid capability flag is resolved once, when the collection is
// ensured, and stays fixed for the lifetime of the store.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// hybrid reports whether the collection carries a sparse vector config.
	hybrid bool

	// log is the structured logger for this store.
	log *slog.Logger
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection exists
// (creating it if necessary), and returns a ready-to-use VectorStore.
// Missing collection name or vector size is a configuration error surfaced
// immediately — the store never guesses a dimension.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant: config must not be nil")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name not configured — set QDRANT_COLLECTION")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size not configured — derive it from the embedding model")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg, log: cfg.Logger}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection if absent and resolves the hybrid
// capability flag. Creation is idempotent; an existing collection is never
// reconfigured, its sparse config (or lack of one) decides the capability.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
		if err != nil {
			return fmt.Errorf("qdrant: failed to inspect collection %q: %w", s.cfg.Collection, err)
		}
		sparseCfg := info.GetConfig().GetParams().GetSparseVectorsConfig().GetMap()
		_, hasSparse := sparseCfg[sparseVectorName]
		s.hybrid = hasSparse && !s.cfg.DisableHybrid
		return nil
	}

	create := &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}
	if !s.cfg.DisableHybrid {
		create.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	}

	if err := s.client.CreateCollection(ctx, create); err != nil {
		if s.cfg.DisableHybrid {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
		}
		// Older servers reject sparse vector configs. Degrade to a dense-only
		// collection rather than refusing to start.
		s.log.Warn("qdrant: sparse vector config rejected, creating dense-only collection",
			slog.String("collection", s.cfg.Collection),
			slog.Any("error", err),
		)
		create.SparseVectorsConfig = nil
		s.cfg.DisableHybrid = true
		if err := s.client.CreateCollection(ctx, create); err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
		}
	}
	s.hybrid = !s.cfg.DisableHybrid

	// Index the namespace field so scoped queries stay fast as the
	// collection grows.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      fieldNamespace,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index namespace field: %w", err)
	}

	return nil
}

// HybridCapable reports whether dense+sparse hybrid search is available.
func (s *QdrantStore) HybridCapable() bool {
	return s.hybrid
}

// Upsert stores or updates a batch of documents under the given namespace.
// dense must be parallel to docs; sparse is optional and ignored when the
// store is not hybrid-capable.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, dense [][]float32, sparse []SparseVector, namespace string) error {
	if len(dense) != len(docs) {
		return fmt.Errorf("qdrant: %d documents but %d dense vectors", len(docs), len(dense))
	}
	if sparse != nil && len(sparse) != len(docs) {
		return fmt.Errorf("qdrant: %d documents but %d sparse vectors", len(docs), len(sparse))
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			fieldContent:   doc.Content,
			fieldNamespace: namespace,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVector(dense[i]...),
		}
		if s.hybrid && sparse != nil && len(sparse[i].Indices) > 0 {
			vectors[sparseVectorName] = qdrant.NewVectorSparse(sparse[i].Indices, sparse[i].Values)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search over the dense vectors, scoped
// to one namespace.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, namespace string, topK int, withVectors bool) ([]Document, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Using:          qdrant.PtrOf(denseVectorName),
		Filter:         namespaceFilter(namespace),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVectors),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: dense search failed: %w", err)
	}

	return s.toDocuments(results), nil
}

// SearchSparse performs a sparse keyword search scoped to one namespace.
func (s *QdrantStore) SearchSparse(ctx context.Context, query SparseVector, namespace string, topK int) ([]Document, error) {
	if !s.hybrid {
		return nil, fmt.Errorf("qdrant: collection %q has no sparse vectors", s.cfg.Collection)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuerySparse(query.Indices, query.Values),
		Using:          qdrant.PtrOf(sparseVectorName),
		Filter:         namespaceFilter(namespace),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: sparse search failed: %w", err)
	}

	return s.toDocuments(results), nil
}

// DeleteNamespace removes every point whose namespace payload matches.
func (s *QdrantStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(namespaceFilter(namespace)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete namespace %q failed: %w", namespace, err)
	}
	return nil
}

// Count returns the exact number of points stored under the namespace.
func (s *QdrantStore) Count(ctx context.Context, namespace string) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         namespaceFilter(namespace),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count for namespace %q failed: %w", namespace, err)
	}
	return count, nil
}

// Stats returns collection-level counters for observability.
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return Stats{}, fmt.Errorf("qdrant: collection info failed: %w", err)
	}
	return Stats{
		Collection:    s.cfg.Collection,
		Points:        info.GetPointsCount(),
		Dimension:     s.cfg.VectorSize,
		HybridCapable: s.hybrid,
	}, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// HealthCheck probes the Qdrant server; used by the readiness endpoint.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// namespaceFilter builds the must-match filter that scopes every operation
// to exactly one namespace.
func namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(fieldNamespace, namespace),
		},
	}
}

// toDocuments converts scored points into Documents, separating the content
// and namespace payload fields from user metadata.
func (s *QdrantStore) toDocuments(results []*qdrant.ScoredPoint) []Document {
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:       r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			switch k {
			case fieldContent:
				doc.Content = v.GetStringValue()
			case fieldNamespace:
				// Internal partition key, not user metadata.
			default:
				doc.Metadata[k] = v.GetStringValue()
			}
		}
		if vecs := r.GetVectors(); vecs != nil {
			if named := vecs.GetVectors(); named != nil {
				if dv, ok := named.GetVectors()[denseVectorName]; ok {
					doc.Vector = dv.GetData()
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs
}
