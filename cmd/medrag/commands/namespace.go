package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/logging"
)

// NewNamespaceCmd constructs the `medrag namespace` command group for
// inspecting and administering index namespaces.
func NewNamespaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "Inspect and administer index namespaces",
	}
	cmd.AddCommand(newNamespaceListCmd(), newNamespaceDeleteCmd())
	return cmd
}

// newNamespaceListCmd constructs `medrag namespace list`, which prints
// per-namespace chunk totals plus the index stats.
func newNamespaceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List namespaces and their ingested chunk counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()

			st, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("namespace list: %w", err)
			}
			defer st.Close()

			stats, err := st.Service.Stats(ctx)
			if err != nil {
				return fmt.Errorf("namespace list: %w", err)
			}

			fmt.Fprintf(os.Stdout, "collection: %s (%d points, dim %d, hybrid=%t)\n",
				stats.Index.Collection, stats.Index.Points, stats.Index.Dimension, stats.Index.HybridCapable)

			if len(stats.Namespaces) == 0 {
				fmt.Fprintln(os.Stdout, "no namespaces recorded")
				return nil
			}
			for _, ns := range stats.Namespaces {
				fmt.Fprintf(os.Stdout, "  %-30s %d chunks\n", ns.Namespace, ns.Chunks)
			}
			return nil
		},
	}
}

// newNamespaceDeleteCmd constructs `medrag namespace delete <name>`, which
// removes every vector under a namespace. Irreversible.
func newNamespaceDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete every vector stored under a namespace (irreversible)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			name := args[0]

			if !yes {
				return fmt.Errorf("namespace delete: pass --yes to confirm deleting namespace %q", name)
			}

			st, err := buildStack(ctx, log, false)
			if err != nil {
				return fmt.Errorf("namespace delete: %w", err)
			}
			defer st.Close()

			if err := st.Service.DeleteNamespace(ctx, name); err != nil {
				return fmt.Errorf("namespace delete: %w", err)
			}
			fmt.Fprintf(os.Stdout, "namespace %q deleted\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}
