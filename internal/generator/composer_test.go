package generator

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
)

// TestCompose_EmptyInput verifies that an empty document list yields the
// no-context sentinel, never an empty string.
func TestCompose_EmptyInput(t *testing.T) {
	t.Parallel()

	c := NewComposer(0, 0)
	if got := c.Compose(nil); got != NoContextSentinel {
		t.Errorf("expected sentinel %q, got %q", NoContextSentinel, got)
	}
	if got := c.Compose([]rag.Document{}); got != NoContextSentinel {
		t.Errorf("expected sentinel for empty slice, got %q", got)
	}
}

// TestCompose_LabelsAndOrder verifies the Document N labels and that input
// order is preserved.
func TestCompose_LabelsAndOrder(t *testing.T) {
	t.Parallel()

	c := NewComposer(0, 0)
	out := c.Compose([]rag.Document{
		{Content: "first chunk"},
		{Content: "second chunk"},
	})

	iFirst := strings.Index(out, "Document 1:")
	iSecond := strings.Index(out, "Document 2:")
	if iFirst < 0 || iSecond < 0 {
		t.Fatalf("missing document labels in output:\n%s", out)
	}
	if iFirst > iSecond {
		t.Error("documents are out of order")
	}
	if !strings.Contains(out, "first chunk") || !strings.Contains(out, "second chunk") {
		t.Error("document content missing from output")
	}
}

// TestCompose_PerDocumentCap verifies that oversized documents are truncated
// with a marker at the per-document limit.
func TestCompose_PerDocumentCap(t *testing.T) {
	t.Parallel()

	c := NewComposer(4000, 50)
	long := strings.Repeat("x", 200)
	out := c.Compose([]rag.Document{{Content: long}})

	if !strings.Contains(out, strings.Repeat("x", 50)+"...") {
		t.Error("expected truncated content followed by marker")
	}
	if strings.Contains(out, strings.Repeat("x", 51)) {
		t.Error("content exceeds the per-document cap")
	}
}

// TestCompose_GlobalCap verifies that the composed string never exceeds the
// global character budget regardless of input volume.
func TestCompose_GlobalCap(t *testing.T) {
	t.Parallel()

	const maxTotal = 300
	c := NewComposer(maxTotal, 120)

	docs := make([]rag.Document, 10)
	for i := range docs {
		docs[i] = rag.Document{Content: strings.Repeat("y", 150)}
	}

	out := c.Compose(docs)
	if len(out) > maxTotal {
		t.Errorf("composed output exceeds global cap: %d > %d", len(out), maxTotal)
	}
	if !strings.HasSuffix(out, "...") {
		t.Errorf("expected truncation marker at the boundary, got tail %q", out[len(out)-10:])
	}
}

// TestCompose_MultiByteTruncation verifies that both the per-document and
// global caps cut at rune boundaries, never mid-character.
func TestCompose_MultiByteTruncation(t *testing.T) {
	t.Parallel()

	const maxTotal = 120
	c := NewComposer(maxTotal, 50)
	docs := []rag.Document{
		{Content: strings.Repeat("βλεφαρίτιδα ", 20)},
		{Content: strings.Repeat("薬理学", 40)},
	}

	out := c.Compose(docs)
	if !utf8.ValidString(out) {
		t.Fatalf("composed output is not valid UTF-8: %q", out)
	}
	if len(out) > maxTotal {
		t.Errorf("output exceeds global cap: %d > %d", len(out), maxTotal)
	}
	if !strings.Contains(out, "...") {
		t.Error("expected a truncation marker")
	}
}

// TestCompose_MetadataLabel verifies that metadata is rendered sorted by key
// and that provenance noise keys are excluded.
func TestCompose_MetadataLabel(t *testing.T) {
	t.Parallel()

	c := NewComposer(0, 0)
	out := c.Compose([]rag.Document{{
		Content: "content",
		Metadata: map[string]string{
			"chunk_index": "2",
			"course":      "anatomy",
			"source":      "/tmp/upload.pdf",
			"file_name":   "upload.pdf",
		},
	}})

	want := "Document 1 (Metadata: chunk_index: 2, course: anatomy):"
	if !strings.Contains(out, want) {
		t.Errorf("expected label %q in output:\n%s", want, out)
	}
	if strings.Contains(out, "upload.pdf") {
		t.Error("provenance noise keys leaked into the label")
	}
}

// TestCompose_OnlyNoiseMetadata verifies that a document whose metadata is
// all provenance noise renders a bare label.
func TestCompose_OnlyNoiseMetadata(t *testing.T) {
	t.Parallel()

	c := NewComposer(0, 0)
	out := c.Compose([]rag.Document{{
		Content:  "body",
		Metadata: map[string]string{"source": "a.txt", "file_name": "a.txt"},
	}})

	if !strings.Contains(out, "Document 1:\n") {
		t.Errorf("expected bare label, got:\n%s", out)
	}
}

// TestCompose_TrimsDocumentWhitespace verifies that surrounding whitespace in
// document content does not survive composition.
func TestCompose_TrimsDocumentWhitespace(t *testing.T) {
	t.Parallel()

	c := NewComposer(0, 0)
	out := c.Compose([]rag.Document{{Content: "\n\n  padded body  \n"}})

	if !strings.Contains(out, "Document 1:\npadded body\n") {
		t.Errorf("expected trimmed content, got:\n%s", out)
	}
}
