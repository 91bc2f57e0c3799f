// Package commands defines all Cobra CLI commands for the medrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/audit"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/config"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "medrag",
		Short: "medrag — namespaced RAG backend for medical education content",
		Long: `medrag ingests medical education documents into a namespaced vector index
and answers questions grounded strictly in the ingested content.

Retrieval blends dense (semantic) and sparse (keyword) search when the index
supports it, and answers follow a fixed teaching format that refuses clinical
advice. Namespaces keep courses and document sets isolated from each other.

Model and embedding providers are selected via environment variables
(MODEL_PROVIDER, EMBEDDING_PROVIDER) or a YAML config file
(~/.medrag/config.yaml). See 'medrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.medrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewNamespaceCmd(),
		NewVersionCmd(),
	)

	return root
}
