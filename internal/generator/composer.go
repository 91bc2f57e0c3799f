package generator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/budget"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
)

// NoContextSentinel is returned by Compose for an empty document list so the
// generator can distinguish "no context retrieved" from an empty string.
const NoContextSentinel = "No relevant context found."

// truncationMarker is appended wherever document content was cut.
const truncationMarker = "..."

// noiseMetadataKeys are metadata fields excluded from the rendered document
// labels — file provenance adds nothing for the model and wastes budget.
var noiseMetadataKeys = map[string]bool{
	"source":    true,
	"file_name": true,
}

// Composer converts a relevance-ranked document list into a single bounded
// context string for the prompt. Two caps bound the output deterministically
// regardless of how many or how large the retrieved documents are: a global
// character budget and a per-document budget so no single chunk dominates.
type Composer struct {
	// maxTotalChars is the global cap on the composed string.
	maxTotalChars int

	// perDocMax is the cap on a single document's content before the
	// truncation marker.
	perDocMax int
}

// NewComposer constructs a Composer. Non-positive caps fall back to the
// budget package defaults (4000 total, 1200 per document).
func NewComposer(maxTotalChars, perDocMax int) *Composer {
	if maxTotalChars <= 0 {
		maxTotalChars = budget.DefaultMaxContextChars
	}
	if perDocMax <= 0 {
		perDocMax = budget.DefaultPerDocumentChars
	}
	return &Composer{maxTotalChars: maxTotalChars, perDocMax: perDocMax}
}

// Compose renders documents, in input order, as labeled blocks:
//
//	Document 1 (Metadata: chunk_index: 0):
//	<content>
//
// Composition stops once the running total reaches the global cap; the block
// that straddles the boundary is truncated with a marker. An empty input
// yields NoContextSentinel. The returned string never exceeds the global cap.
func (c *Composer) Compose(docs []rag.Document) string {
	if len(docs) == 0 {
		return NoContextSentinel
	}

	var sb strings.Builder
	used := 0

	for i, doc := range docs {
		if used >= c.maxTotalChars {
			break
		}

		content := strings.TrimSpace(doc.Content)
		if len(content) > c.perDocMax {
			content = content[:prevRuneStart(content, c.perDocMax)] + truncationMarker
		}

		block := fmt.Sprintf("Document %d%s:\n%s\n", i+1, metadataLabel(doc.Metadata), content)
		if i > 0 {
			block = "\n" + block
		}

		if remaining := c.maxTotalChars - used; len(block) > remaining {
			block = block[:prevRuneStart(block, remaining)]
			if !strings.HasSuffix(block, truncationMarker) {
				block = truncateForMarker(block)
			}
		}

		sb.WriteString(block)
		used += len(block)
	}

	return sb.String()
}

// metadataLabel renders the non-noise metadata fields as a parenthesised
// suffix for the document label. Keys are sorted for deterministic output.
func metadataLabel(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if !noiseMetadataKeys[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + metadata[k]
	}
	return " (Metadata: " + strings.Join(parts, ", ") + ")"
}

// truncateForMarker makes room for the truncation marker at the end of a
// hard-cut block without exceeding its current length.
func truncateForMarker(block string) string {
	if len(block) <= len(truncationMarker) {
		return block
	}
	cut := prevRuneStart(block, len(block)-len(truncationMarker))
	return strings.TrimRight(block[:cut], " \n") + truncationMarker
}

// prevRuneStart backs i off to the nearest rune boundary at or before it, so
// truncation never splits a multi-byte character.
func prevRuneStart(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
