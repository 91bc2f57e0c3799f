// Package tracing wires optional Langfuse observability into the eino
// callback chain so every model call the pipeline makes is traced.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Setup registers a Langfuse callback handler globally if LANGFUSE_PUBLIC_KEY
// and LANGFUSE_SECRET_KEY are set. Returns a flush function that must be
// called before process exit so buffered traces are sent, and whether tracing
// was enabled. With no keys configured, tracing is silently disabled and the
// flush function is a no-op.
func Setup() (flush func(), enabled bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return func() {}, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = "https://cloud.langfuse.com"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "medrag",
	})
	callbacks.AppendGlobalHandlers(handler)

	return flusher, true
}
