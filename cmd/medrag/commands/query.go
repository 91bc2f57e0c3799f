package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/generator"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/logging"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/service"
)

// NewQueryCmd constructs the `medrag query` command: one-shot grounded
// question answering from the terminal.
func NewQueryCmd() *cobra.Command {
	var namespace string
	var topK int
	var alpha float32
	var withSources bool
	var retrieveOnly bool

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question grounded in the ingested documents",
		Long: `Retrieve relevant context for a question and generate a grounded answer.

The answer follows the fixed teaching format and refuses clinical advice.
--retrieve-only skips generation and prints the raw retrieval results, which
is useful for debugging relevance without spending model tokens.

Examples:
  medrag query "What is the role of ATP in cellular respiration?"
  medrag query --namespace anatomy-101 --top-k 3 "Describe the humerus."
  medrag query --alpha 0 --retrieve-only "beta blocker mechanism"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			question := strings.Join(args, " ")

			st, err := buildStack(ctx, log, !retrieveOnly)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer st.Close()

			params := service.QueryParams{
				Namespace:   namespace,
				TopK:        topK,
				WithSources: withSources,
			}
			if cmd.Flags().Changed("alpha") {
				params.Alpha = &alpha
			}

			if retrieveOnly {
				docs := st.Service.RetrieveOnly(ctx, question, params)
				if len(docs) == 0 {
					fmt.Fprintln(os.Stdout, "no documents found")
					return nil
				}
				for i, d := range docs {
					fmt.Fprintf(os.Stdout, "--- %d (score %.4f) ---\n%s\n", i+1, d.Score, d.Content)
				}
				return nil
			}

			result := st.Service.Query(ctx, question, params)
			if result.Status == generator.StatusError {
				return fmt.Errorf("query: %s", result.Message)
			}

			fmt.Fprintln(os.Stdout, result.Answer)
			if withSources && len(result.Sources) > 0 {
				fmt.Fprintln(os.Stdout, "\nSources:")
				for i, src := range result.Sources {
					fmt.Fprintf(os.Stdout, "  %d. %s\n", i+1, src.Content)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to search (default: \"default\")")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of documents to retrieve (default: 5)")
	cmd.Flags().Float32VarP(&alpha, "alpha", "a", 0.5, "Dense/sparse blend weight in [0,1]; 1 = pure dense")
	cmd.Flags().BoolVarP(&withSources, "sources", "s", false, "Print source excerpts with the answer")
	cmd.Flags().BoolVar(&retrieveOnly, "retrieve-only", false, "Skip generation and print raw retrieval results")

	return cmd
}
