// Command medrag is the entry point for the medical-education RAG backend.
// It provides a CLI interface (via Cobra) and an HTTP server exposing the
// ingestion, retrieval, and grounded-generation API.
package main

import (
	"fmt"
	"os"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/cmd/medrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
