package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/logging"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/server"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/tracing"
)

// NewServeCmd constructs the `medrag serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the medrag HTTP API server",
		Long: `Start the medrag HTTP server.

The server exposes the full pipeline as a REST API: document ingestion
(/api/ingest/text, /api/ingest/file), retrieval (/api/retrieve), grounded
question answering (/api/query, /api/generate), namespace administration
(DELETE /api/namespace/{name}), plus /api/stats, health/readiness probes,
and Prometheus metrics on /metrics.

Examples:
  medrag serve
  medrag serve --port 9000
  MODEL_PROVIDER=azure medrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("model_provider", getEnvOrDefault("MODEL_PROVIDER", "openai")),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			flush, ok := tracing.Setup()
			if ok {
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			st, err := buildStack(ctx, log, true)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			pingers := []server.Pinger{
				server.NewQdrantPinger(st.Store),
				server.NewEmbedderPinger(st.Embedder, st.EmbedderBackend),
			}

			srv, err := server.New(st.Service, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("MEDRAG_API_KEY"),
			}, prometheus.DefaultRegisterer)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("MEDRAG_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("MEDRAG_PORT", 8000), "TCP port to listen on")

	return cmd
}
