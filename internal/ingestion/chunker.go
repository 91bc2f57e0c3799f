// Package ingestion implements the document ingestion pipeline: split raw
// text into bounded overlapping chunks, embed each chunk, and upsert the
// results into the namespaced vector store. File extraction (.txt/.md/.pdf/
// .docx) lives here too, feeding the same pipeline.
package ingestion

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, matching the ingestion API defaults.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators is the layered boundary preference for splitting: paragraph
// breaks first, then line breaks, then word breaks, then a hard character
// cut as the last resort.
var separators = []string{"\n\n", "\n", " "}

// Chunk is one bounded segment of a source document, carrying a copy of the
// source metadata. Immutable once produced.
type Chunk struct {
	// Content is the chunk text, at most ChunkSize characters.
	Content string

	// Metadata is copied unmodified from the source document.
	Metadata map[string]string
}

// Splitter splits raw text into overlapping chunks suitable for embedding.
// Splitting is deterministic: the same text and parameters always yield the
// same chunk sequence.
type Splitter struct {
	// chunkSize is the maximum number of characters per chunk.
	chunkSize int

	// chunkOverlap is the number of characters shared between consecutive chunks.
	chunkOverlap int
}

// NewSplitter constructs a Splitter. chunkSize must be strictly greater than
// chunkOverlap, and chunkOverlap must be non-negative — anything else is a
// configuration error, not a runtime one.
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("ingestion: chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("ingestion: chunk overlap must be non-negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("ingestion: chunk overlap (%d) must be smaller than chunk size (%d)", chunkOverlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split divides text into chunks of at most chunkSize characters, each
// overlapping its predecessor by chunkOverlap characters. Boundaries prefer
// paragraph breaks, then line breaks, then spaces, then hard cuts. Hard cuts
// and overlap offsets are backed off to the previous rune boundary so chunks
// of multi-byte text are always valid UTF-8 (the overlap can grow by a few
// bytes there). Leading/trailing whitespace of the whole text is trimmed
// first. Empty text yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for {
		end := start + s.chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		end = prevRuneStart(text, end)
		cut := s.findCut(text, start, end)
		if cut <= start {
			// chunkSize is smaller than the rune at start; emit the rune
			// whole so the splitter still makes progress.
			_, n := utf8.DecodeRuneInString(text[start:])
			cut = start + n
		}
		chunks = append(chunks, text[start:cut])

		next := cut - s.chunkOverlap
		if next > start {
			next = prevRuneStart(text, next)
		}
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// prevRuneStart backs i off to the nearest rune boundary at or before it, so
// slicing text at the result never splits a multi-byte character.
func prevRuneStart(text string, i int) int {
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// findCut returns the boundary position for the chunk starting at start,
// preferring the latest separator occurrence inside the window. A boundary
// is only usable if it leaves room for the overlap plus at least one new
// character; otherwise the next separator (and finally a hard cut at the
// window end) is used so the splitter always makes progress.
func (s *Splitter) findCut(text string, start, end int) int {
	window := text[start:end]
	for _, sep := range separators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := start + idx + len(sep)
		if cut > start+s.chunkOverlap {
			return cut
		}
	}
	return end
}

// SplitWithMetadata splits text and attaches a copy of metadata to every
// produced chunk.
func (s *Splitter) SplitWithMetadata(text string, metadata map[string]string) []Chunk {
	parts := s.Split(text)
	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		md := make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
		chunks = append(chunks, Chunk{Content: part, Metadata: md})
	}
	return chunks
}
