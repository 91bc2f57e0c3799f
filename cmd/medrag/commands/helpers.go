package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/budget"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/embedder"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/generator"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/ingestion"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/provider"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/service"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/store"
)

// stack holds the fully wired pipeline and the handles commands need for
// readiness probes and shutdown.
type stack struct {
	// Service is the pipeline all commands and handlers call.
	Service *service.RAG
	// Store is the Qdrant-backed vector store, exposed for readiness probes.
	Store *rag.QdrantStore
	// Embedder is the embedding client, exposed for readiness probes.
	Embedder rag.Embedder
	// EmbedderBackend names the embedding provider for logs and probes.
	EmbedderBackend string
	// Close releases every resource the stack holds, in reverse order.
	Close func()
}

// buildStack wires the full pipeline from environment configuration:
// embedder → Qdrant store → retriever, ingest ledger, ingestion pipeline,
// chat model → generator, all assembled into the service.
// withModel=false skips the chat model (ingest-only commands never pay for a
// provider handshake).
func buildStack(ctx context.Context, log *slog.Logger, withModel bool) (*stack, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("initialising embedder: %w", err)
	}
	embBackend := embedder.Backend()
	embModel := embedder.Model(embBackend)
	log.Info("embedder initialised",
		slog.String("provider", embBackend),
		slog.String("model", embModel),
	)

	vectorSize := embedder.Dimensions(embBackend, embModel)
	qdrantStore, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:          getEnvOrDefault("QDRANT_HOST", "localhost"),
		Port:          getEnvInt("QDRANT_PORT", 6334),
		Collection:    getEnvOrDefault("QDRANT_COLLECTION", "medrag-docs"),
		VectorSize:    uint64(vectorSize), //nolint:gosec // dimensions are bounded
		APIKey:        os.Getenv("QDRANT_API_KEY"),
		UseTLS:        os.Getenv("QDRANT_TLS") == "true",
		DisableHybrid: os.Getenv("RETRIEVAL_HYBRID") == "off",
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant: %w", err)
	}
	log.Info("qdrant store ready",
		slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "medrag-docs")),
		slog.Bool("hybrid", qdrantStore.HybridCapable()),
	)

	ledger := openLedger(log)

	pipeline, err := ingestion.NewPipeline(emb, qdrantStore, ledgerOrNil(ledger), &ingestion.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
	}, log)
	if err != nil {
		closeAll(qdrantStore, ledger)
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	retriever, err := rag.NewHybridRetriever(emb, qdrantStore, os.Getenv("MEDRAG_NAMESPACE"), log)
	if err != nil {
		closeAll(qdrantStore, ledger)
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	var gen *generator.Generator
	if withModel {
		chatModel, mErr := provider.NewFromEnv(ctx)
		if mErr != nil {
			closeAll(qdrantStore, ledger)
			return nil, fmt.Errorf("initialising model provider: %w", mErr)
		}
		log.Info("model provider initialised",
			slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "openai")),
		)
		gen, err = generator.New(chatModel, newComposer(), generatorConfig(), log)
	} else {
		gen, err = generator.New(noModel{}, newComposer(), generatorConfig(), log)
	}
	if err != nil {
		closeAll(qdrantStore, ledger)
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	svc, err := service.New(retriever, gen, pipeline, qdrantStore, ledger, log)
	if err != nil {
		closeAll(qdrantStore, ledger)
		return nil, fmt.Errorf("creating service: %w", err)
	}

	return &stack{
		Service:         svc,
		Store:           qdrantStore,
		Embedder:        emb,
		EmbedderBackend: embBackend,
		Close:           func() { closeAll(qdrantStore, ledger) },
	}, nil
}

// openLedger opens the SQLite ingest ledger. MEDRAG_LEDGER_DB overrides the
// default path (~/.medrag/ledger.db); "disabled" turns the ledger off.
// Any failure degrades to a nil ledger with a warning — ingest still works.
func openLedger(log *slog.Logger) *store.Ledger {
	dbPath := os.Getenv("MEDRAG_LEDGER_DB")
	if dbPath == "disabled" {
		log.Info("ledger: disabled via MEDRAG_LEDGER_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("ledger: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	l, err := store.Open(dbPath)
	if err != nil {
		log.Warn("ledger: failed to open, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("ledger: opened", slog.String("path", dbPath))
	return l
}

// ledgerOrNil converts a possibly-nil *store.Ledger into the pipeline's
// Ledger interface without smuggling a typed nil into the interface value.
func ledgerOrNil(l *store.Ledger) ingestion.Ledger {
	if l == nil {
		return nil
	}
	return l
}

// newComposer builds the context composer from env overrides, falling back
// to the budget defaults.
func newComposer() *generator.Composer {
	return generator.NewComposer(
		getEnvInt("CONTEXT_MAX_CHARS", budget.DefaultMaxContextChars),
		getEnvInt("CONTEXT_PER_DOC_CHARS", budget.DefaultPerDocumentChars),
	)
}

// generatorConfig resolves the generation tuning from environment variables.
func generatorConfig() *generator.Config {
	return &generator.Config{
		Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0.3),
		MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 512),
		Timeout:     time.Duration(getEnvInt("MODEL_TIMEOUT_SECONDS", 20)) * time.Second,
		MaxRetries:  getEnvInt("MODEL_MAX_RETRIES", 2),
	}
}

// noModel is the placeholder chat model used by ingest-only commands, which
// never generate. Calling it is a bug surfaced as a tagged error result.
type noModel struct{}

func (noModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, fmt.Errorf("no chat model configured for this command")
}

// closeAll releases the stack's resources, tolerating nil members.
func closeAll(qdrantStore *rag.QdrantStore, ledger *store.Ledger) {
	if qdrantStore != nil {
		_ = qdrantStore.Close()
	}
	if ledger != nil {
		_ = ledger.Close()
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
