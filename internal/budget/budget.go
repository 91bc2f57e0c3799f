// Package budget provides prompt-size estimation for the medrag pipeline.
// The backend supports multiple LLM providers with different tokenizers, so
// this package uses a conservative character-based heuristic: 1 token ≈ 4
// characters (English prose). The composer's character caps and the
// generator's prompt-size logging both lean on it.
package budget

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English text; lower values
	// are more aggressive but risk overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextChars caps the composed retrieval context. 4000
	// characters (~1000 tokens) keeps the full prompt comfortably inside
	// small-context models while bounding latency and cost.
	DefaultMaxContextChars = 4000

	// DefaultPerDocumentChars caps a single document's contribution to the
	// composed context so no one chunk dominates the prompt.
	DefaultPerDocumentChars = 1200
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimatePrompt returns the estimated token count for a rendered prompt
// consisting of a context block and a question, plus a small fixed overhead
// for the template scaffolding.
func EstimatePrompt(contextBlock, question string) int {
	// The default template adds roughly 300 tokens of instructions.
	const templateOverheadTokens = 300
	return templateOverheadTokens + Estimate(contextBlock) + Estimate(question)
}
