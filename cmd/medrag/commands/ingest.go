package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/logging"
)

// NewIngestCmd constructs the `medrag ingest` command, which loads documents
// into the vector index.
func NewIngestCmd() *cobra.Command {
	var namespace string
	var files []string
	var dir string
	var extensions []string

	cmd := &cobra.Command{
		Use:   "ingest [text]",
		Short: "Ingest documents or raw text into the vector index",
		Long: `Split, embed, and index documents under a namespace.

Input comes from one of three sources: raw text as a positional argument,
one or more --file flags (.txt, .md, .pdf, .docx), or a --dir to walk
recursively. Re-ingesting identical content overwrites the existing chunks
instead of duplicating them.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: medrag-docs)
  EMBEDDING_*          Embedding provider settings (see README)

Examples:
  medrag ingest --file anatomy.pdf --namespace anatomy-101
  medrag ingest --dir ./notes --ext .md --namespace pharmacology
  medrag ingest "The mitochondria is the powerhouse of the cell."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			if len(args) == 0 && len(files) == 0 && dir == "" {
				return fmt.Errorf("ingest: provide text, --file, or --dir")
			}

			st, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			total := 0

			for _, arg := range args {
				n, err := st.Service.IngestText(ctx, arg, nil, namespace)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				total += n
			}

			for _, f := range files {
				n, err := st.Service.IngestFile(ctx, f, nil, namespace)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", f, err)
				}
				log.Info("file ingested", slog.String("file", f), slog.Int("chunks", n))
				total += n
			}

			if dir != "" {
				results, err := st.Service.IngestDirectory(ctx, dir, extensions, namespace)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				failed := 0
				for _, r := range results {
					if r.Err != nil {
						failed++
						continue
					}
					total += r.Chunks
				}
				log.Info("directory ingested",
					slog.String("dir", dir),
					slog.Int("files", len(results)),
					slog.Int("failed", failed),
				)
			}

			fmt.Fprintf(os.Stdout, "ingested %d chunks into namespace %q\n",
				total, namespaceLabel(namespace))
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to store under (default: \"default\")")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "File to ingest (repeatable)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to ingest recursively")
	cmd.Flags().StringArrayVar(&extensions, "ext", nil, "File extensions to include with --dir (default: .txt, .md)")

	return cmd
}

// namespaceLabel resolves the display name for an empty (default) namespace.
func namespaceLabel(namespace string) string {
	if namespace == "" {
		return "default"
	}
	return namespace
}
