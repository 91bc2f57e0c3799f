// Package generator renders the safety-constrained prompt, invokes the chat
// model, and packages answers with provenance. It never lets a model failure
// escape as an error — every outcome is a tagged Result.
package generator

// Status tags every pipeline result. The three variants are the complete
// set: handlers and callers switch over them exhaustively instead of
// inspecting string-keyed maps.
type Status string

const (
	// StatusSuccess means the operation completed and produced an answer.
	StatusSuccess Status = "success"

	// StatusWarning means the operation completed but found nothing useful
	// (e.g. zero documents retrieved). User-facing, non-fatal.
	StatusWarning Status = "warning"

	// StatusError means the operation failed after bounded retries.
	StatusError Status = "error"
)

// SourceExcerpt is the citation record attached per input document by
// GenerateWithSources: a bounded content preview plus the full metadata.
type SourceExcerpt struct {
	// Content is the document text truncated to sourcePreviewLen characters.
	Content string `json:"content"`

	// Metadata is the document's full metadata mapping.
	Metadata map[string]string `json:"metadata"`
}

// Result is the tagged outcome of a generation call.
type Result struct {
	// Status tags the outcome: success, warning, or error.
	Status Status `json:"status"`

	// Message carries the failure reason when Status is error, or an
	// advisory note for warnings. Empty on success.
	Message string `json:"message,omitempty"`

	// Answer is the model's response. Empty unless Status is success.
	Answer string `json:"answer,omitempty"`

	// ContextUsed is the number of input documents the answer was grounded
	// in. Zero on failure.
	ContextUsed int `json:"context_used"`

	// Sources holds per-document citation records when requested.
	Sources []SourceExcerpt `json:"sources,omitempty"`
}
